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

// Package stage provides the warehouse connection consumed by the sink:
// DDL checks for table/stage/pipe objects, staged-file uploads and
// lifecycle operations, and construction of the per-pipe ingestion client.
package stage

import (
	"context"

	"github.com/novatechflow/stagesink/pkg/ingest"
)

// Connection is the remote connection contract. File lifecycle operations
// address files by stage-relative name; implementations own the mapping to
// physical object keys.
type Connection interface {
	TableExist(ctx context.Context, name string) (bool, error)
	StageExist(ctx context.Context, name string) (bool, error)
	PipeExist(ctx context.Context, name string) (bool, error)

	IsTableCompatible(ctx context.Context, name string) (bool, error)
	IsStageCompatible(ctx context.Context, name string) (bool, error)
	IsPipeCompatible(ctx context.Context, tableName, stageName, pipeName string) (bool, error)

	// Creation is idempotent or safe under races with other workers.
	CreateTable(ctx context.Context, name string) error
	CreateStage(ctx context.Context, name string) error
	CreatePipe(ctx context.Context, tableName, stageName, pipeName string) error

	ListStage(ctx context.Context, stageName, prefix string) ([]string, error)
	PutWithCache(ctx context.Context, stageName, fileName string, content []byte) error
	PutToTableStage(ctx context.Context, tableName, fileName string, data []byte) error
	PurgeStage(ctx context.Context, stageName string, files []string) error
	MoveToTableStage(ctx context.Context, tableName, stageName string, files []string) error

	BuildIngestService(stageName, pipeName string) ingest.Service

	ConnectorName() string
	IsClosed() bool
	Close() error
}
