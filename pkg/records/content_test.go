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
	"bytes"
	"testing"
)

func TestParseContentSingleDocument(t *testing.T) {
	content, err := ParseContent([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if content.IsBroken() {
		t.Fatalf("content should not be broken")
	}
	if len(content.Nodes()) != 1 {
		t.Fatalf("expected 1 node, got %d", len(content.Nodes()))
	}
	if content.IsNull() {
		t.Fatalf("non-empty document should not be null")
	}
}

func TestParseContentConcatenatedDocuments(t *testing.T) {
	content, err := ParseContent([]byte(`{"a":1}{"b":2}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(content.Nodes()) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(content.Nodes()))
	}
}

func TestParseContentEmptyIsNull(t *testing.T) {
	for _, input := range [][]byte{nil, []byte(""), []byte("  "), []byte(`{}`)} {
		content, err := ParseContent(input)
		if err != nil {
			t.Fatalf("parse %q failed: %v", input, err)
		}
		if !content.IsNull() {
			t.Fatalf("expected %q to be null content", input)
		}
	}
}

func TestParseContentInvalid(t *testing.T) {
	if _, err := ParseContent([]byte(`{"a":`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBrokenContentBytes(t *testing.T) {
	raw := []byte{0x1, 0x2, 0x3}
	content := NewBrokenContent(raw)
	if !content.IsBroken() {
		t.Fatalf("expected broken content")
	}
	if !bytes.Equal(content.Bytes(), raw) {
		t.Fatalf("broken bytes mismatch")
	}
}

func TestStructuredContentBytesLegacyRendering(t *testing.T) {
	content := NewStructuredContent([]byte(`{"a":1}`), []byte(`{"b":2}`))
	got := string(content.Bytes())
	want := `[{"a":1}, {"b":2}]`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestValueConvertDegradesToBroken(t *testing.T) {
	v := NativeValue("", []byte(`{"a":`))
	v.Convert()
	if !v.IsFirstParty() {
		t.Fatalf("expected converted value")
	}
	if !v.Content().IsBroken() {
		t.Fatalf("expected broken content after failed parse")
	}
	if !bytes.Equal(v.Content().BrokenData(), []byte(`{"a":`)) {
		t.Fatalf("broken data should carry the raw bytes")
	}
}

func TestValueConvertIdempotent(t *testing.T) {
	v := NativeValue("", []byte(`{"a":1}`))
	v.Convert()
	first := v.Content()
	v.Convert()
	if v.Content() != first {
		t.Fatalf("second convert should keep the parsed content")
	}
}

func TestNilValueAccessors(t *testing.T) {
	var v *Value
	if v.IsFirstParty() {
		t.Fatalf("nil value is not first party")
	}
	if v.Content() != nil {
		t.Fatalf("nil value has no content")
	}
	v.Convert() // must not panic
}
