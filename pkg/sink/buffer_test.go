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

import "testing"

func TestPartitionBufferEmpty(t *testing.T) {
	buf := NewPartitionBuffer()
	if !buf.IsEmpty() {
		t.Fatalf("new buffer must be empty")
	}
	if buf.FirstOffset() != -1 || buf.LastOffset() != -1 {
		t.Fatalf("empty buffer offsets must be -1")
	}
	if buf.BufferSize() != 0 || buf.NumOfRecord() != 0 {
		t.Fatalf("empty buffer counters must be 0")
	}
}

func TestPartitionBufferInsertBookkeeping(t *testing.T) {
	buf := NewPartitionBuffer()

	added := buf.Insert("abcd", 100)
	if added != 8 {
		t.Fatalf("size accounting is two bytes per character, got %d", added)
	}
	if buf.FirstOffset() != 100 || buf.LastOffset() != 100 {
		t.Fatalf("offsets after first insert: %d %d", buf.FirstOffset(), buf.LastOffset())
	}

	buf.Insert("efgh", 101)
	if buf.FirstOffset() != 100 {
		t.Fatalf("first offset must not move: %d", buf.FirstOffset())
	}
	if buf.LastOffset() != 101 {
		t.Fatalf("last offset must track the latest insert: %d", buf.LastOffset())
	}
	if buf.BufferSize() != 16 {
		t.Fatalf("buffer size: got %d want 16", buf.BufferSize())
	}
	if buf.NumOfRecord() != 2 {
		t.Fatalf("record count: got %d want 2", buf.NumOfRecord())
	}
	if buf.Data() != "abcdefgh" {
		t.Fatalf("data: got %q", buf.Data())
	}
}
