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

package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestIngestFilesRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/insertFiles") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Files []struct {
				Path string `json:"path"`
			} `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Files) != 2 {
			t.Errorf("bad request body: %v %v", req, err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "pipe_a")
	defer client.Close()

	err := client.IngestFiles(context.Background(), []string{"f1", "f2"})
	if err != nil {
		t.Fatalf("ingest should succeed after retries: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts: got %d want 3", attempts.Load())
	}
}

func TestIngestFilesPermanentErrorDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "pipe_a")
	defer client.Close()

	if err := client.IngestFiles(context.Background(), []string{"f1"}); err == nil {
		t.Fatalf("expected error on permanent failure")
	}
	if attempts.Load() != 1 {
		t.Fatalf("permanent failures must not retry, got %d attempts", attempts.Load())
	}
}

func TestIngestFilesEmptyBatchSkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for an empty batch")
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "pipe_a")
	defer client.Close()

	if err := client.IngestFiles(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestReadIngestReportParsesStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/insertReport") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files":[
			{"path":"f1","status":"LOADED"},
			{"path":"f2","status":"LOAD_FAILED"},
			{"path":"f3","status":"PARTIALLY_LOADED"},
			{"path":"f4","status":"LOAD_IN_PROGRESS"},
			{"path":"other","status":"LOADED"}
		]}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "pipe_a")
	defer client.Close()

	statuses, err := client.ReadIngestReport(context.Background(), []string{"f1", "f2", "f3", "f4"})
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	want := map[string]Status{
		"f1": StatusLoaded,
		"f2": StatusFailed,
		"f3": StatusPartiallyLoaded,
		"f4": StatusLoadInProgress,
	}
	if len(statuses) != len(want) {
		t.Fatalf("statuses: got %v", statuses)
	}
	for file, status := range want {
		if statuses[file] != status {
			t.Fatalf("%s: got %v want %v", file, statuses[file], status)
		}
	}
	if _, ok := statuses["other"]; ok {
		t.Fatalf("unrequested files must be filtered out")
	}
}

func TestReadOneHourHistoryPassesWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("startTimeInclusive"); got != "1700000000000" {
			t.Errorf("startTimeInclusive: got %s", got)
		}
		w.Write([]byte(`{"files":[{"path":"f1","status":"LOADED"}]}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "pipe_a")
	defer client.Close()

	statuses, err := client.ReadOneHourHistory(context.Background(), []string{"f1"}, 1700000000000)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if statuses["f1"] != StatusLoaded {
		t.Fatalf("statuses: %v", statuses)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusLoaded, StatusFailed, StatusPartiallyLoaded}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%v must be terminal", s)
		}
	}
	for _, s := range []Status{StatusNotFound, StatusLoadInProgress} {
		if s.Terminal() {
			t.Fatalf("%v must not be terminal", s)
		}
	}
}
