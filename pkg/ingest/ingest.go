// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest talks to the warehouse's asynchronous staged-file
// ingestion API: trigger ingestion for uploaded files and reconcile their
// outcomes through two status endpoints with different retention windows.
package ingest

import "context"

// Status is the ingestion outcome of a single staged file.
type Status int

const (
	StatusNotFound Status = iota
	StatusLoadInProgress
	StatusLoaded
	StatusFailed
	StatusPartiallyLoaded
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "LOADED"
	case StatusFailed:
		return "FAILED"
	case StatusPartiallyLoaded:
		return "PARTIALLY_LOADED"
	case StatusLoadInProgress:
		return "LOAD_IN_PROGRESS"
	default:
		return "NOT_FOUND"
	}
}

// Terminal reports whether the status is final for reconciliation: the
// file either fully loaded or definitively failed.
func (s Status) Terminal() bool {
	return s == StatusLoaded || s == StatusFailed || s == StatusPartiallyLoaded
}

// Service is the ingestion API consumed by the sink pipeline.
//
// IngestFiles triggers asynchronous ingestion and retries internally with
// backoff; it returns an error once retries are exhausted or on a failure
// an implementation classifies as not retryable.
// ReadIngestReport covers a short retention window with low latency;
// ReadOneHourHistory scans a longer window and is authoritative for files
// the report no longer remembers.
type Service interface {
	IngestFiles(ctx context.Context, files []string) error
	ReadIngestReport(ctx context.Context, files []string) (map[string]Status, error)
	ReadOneHourHistory(ctx context.Context, files []string, sinceMs int64) (map[string]Status, error)
	Close() error
}
