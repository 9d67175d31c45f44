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

package records

import (
	"encoding/json"
	"strings"
	"testing"
)

func testRecord() *Record {
	rec := &Record{
		Topic:         "orders",
		Partition:     3,
		Offset:        42,
		Value:         NativeValue("", []byte(`{"id":7}`)),
		Key:           NativeValue("", []byte(`"k7"`)),
		TimestampMs:   1700000000000,
		TimestampType: CreateTime,
		Headers:       []Header{{Key: "source", Value: []byte("unit")}},
	}
	rec.Key.Convert()
	rec.Value.Convert()
	return rec
}

func TestProcessRecordFullMetadata(t *testing.T) {
	svc := NewService()
	out, err := svc.ProcessRecord(testRecord())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("row must be newline terminated")
	}

	var parsed struct {
		Content map[string]any `json:"content"`
		Meta    map[string]any `json:"meta"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("row is not valid JSON: %v", err)
	}
	if parsed.Content["id"] != float64(7) {
		t.Fatalf("content mismatch: %v", parsed.Content)
	}
	if parsed.Meta["offset"] != float64(42) || parsed.Meta["partition"] != float64(3) {
		t.Fatalf("meta offset/partition mismatch: %v", parsed.Meta)
	}
	if parsed.Meta["topic"] != "orders" {
		t.Fatalf("meta topic mismatch: %v", parsed.Meta)
	}
	if parsed.Meta["CreateTime"] != float64(1700000000000) {
		t.Fatalf("meta CreateTime mismatch: %v", parsed.Meta)
	}
	if parsed.Meta["key"] != "k7" {
		t.Fatalf("meta key mismatch: %v", parsed.Meta)
	}
	headers, ok := parsed.Meta["headers"].(map[string]any)
	if !ok || headers["source"] != "unit" {
		t.Fatalf("meta headers mismatch: %v", parsed.Meta)
	}
}

func TestProcessRecordMetadataDisabled(t *testing.T) {
	svc := NewService()
	svc.SetMetadataConfig(MetadataConfig{All: false})
	out, err := svc.ProcessRecord(testRecord())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if strings.Contains(out, `"meta"`) {
		t.Fatalf("meta must be omitted when disabled: %s", out)
	}
}

func TestProcessRecordNoTimestamp(t *testing.T) {
	svc := NewService()
	rec := testRecord()
	rec.TimestampType = NoTimestampType
	out, err := svc.ProcessRecord(rec)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if strings.Contains(out, "CreateTime") {
		t.Fatalf("timestamp must be omitted without a timestamp type: %s", out)
	}
}

func TestProcessRecordTombstone(t *testing.T) {
	svc := NewService()
	rec := &Record{Topic: "orders", Partition: 0, Offset: 9}
	out, err := svc.ProcessRecord(rec)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !strings.Contains(out, `"content":{}`) {
		t.Fatalf("tombstone must serialize empty content: %s", out)
	}
}

func TestProcessRecordBrokenRejected(t *testing.T) {
	svc := NewService()
	rec := testRecord()
	rec.Value = ContentValue(NewBrokenContent([]byte("junk")))
	if _, err := svc.ProcessRecord(rec); err == nil {
		t.Fatalf("expected error for broken content")
	}
}
