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

package sink

import (
	"strings"
	"testing"
)

func TestFileNameRoundTrip(t *testing.T) {
	prefix := FilePrefix("conn", "orders", 2)
	name := FileName(prefix, 100, 101, 1700000000123)

	if !strings.HasPrefix(name, "conn/orders/2/") {
		t.Fatalf("unexpected prefix: %s", name)
	}
	if !strings.HasSuffix(name, ".json.gz") {
		t.Fatalf("unexpected suffix: %s", name)
	}

	start, err := FileNameToStartOffset(name)
	if err != nil || start != 100 {
		t.Fatalf("start offset: got %d err %v", start, err)
	}
	end, err := FileNameToEndOffset(name)
	if err != nil || end != 101 {
		t.Fatalf("end offset: got %d err %v", end, err)
	}
	ingested, err := FileNameToTimeIngested(name)
	if err != nil || ingested != 1700000000123 {
		t.Fatalf("ingest time: got %d err %v", ingested, err)
	}
}

func TestFileNameDecodeRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"conn/orders/2/100_101.json.gz",
		"conn/orders/2/100_101_5_6.json.gz",
		"conn/orders/2/100_101_5",
		"plain",
	} {
		if _, err := FileNameToStartOffset(name); err == nil {
			t.Fatalf("expected decode error for %s", name)
		}
	}
}

func TestBrokenRecordFileName(t *testing.T) {
	prefix := FilePrefix("conn", "orders", 0)
	keyName := BrokenRecordFileName(prefix, 7, true, 1700000000123)
	valueName := BrokenRecordFileName(prefix, 7, false, 1700000000123)

	if !strings.Contains(keyName, "_key_") || !strings.Contains(valueName, "_value_") {
		t.Fatalf("broken names must carry the part marker: %s %s", keyName, valueName)
	}
	if strings.HasSuffix(keyName, ".json.gz") {
		t.Fatalf("broken names form a parallel namespace: %s", keyName)
	}
	// a broken name never decodes as a staged file
	if _, err := FileNameToStartOffset(keyName); err == nil {
		t.Fatalf("broken name decoded as staged file: %s", keyName)
	}
}

func TestTableNameResolution(t *testing.T) {
	mapping := map[string]string{"orders": "orders_table"}

	if got := TableName("orders", mapping); got != "orders_table" {
		t.Fatalf("mapped topic: got %s", got)
	}
	if got := TableName("clean_topic", nil); got != "clean_topic" {
		t.Fatalf("valid topic must pass through: got %s", got)
	}

	mangled := TableName("my-topic.v1", nil)
	if strings.ContainsAny(mangled, "-.") {
		t.Fatalf("mangled name still has invalid characters: %s", mangled)
	}
	if mangled == "my_topic_v1" {
		t.Fatalf("mangled name must carry a disambiguating hash: %s", mangled)
	}

	numeric := TableName("99topic", nil)
	if !strings.HasPrefix(numeric, "t_") {
		t.Fatalf("numeric-leading topic must be prefixed: %s", numeric)
	}
}
