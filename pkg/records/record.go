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

// TimestampType mirrors the upstream log's timestamp semantics.
type TimestampType int

const (
	NoTimestampType TimestampType = iota
	CreateTime
	LogAppendTime
)

// Header is an opaque record header.
type Header struct {
	Key   string
	Value []byte
}

// Value is a tagged variant for a record key or value: either native
// converter output (raw bytes plus schema name) or first-party content
// already parsed into a Content. A nil *Value is a community-converter
// null (tombstone).
type Value struct {
	content *Content
	native  []byte
	schema  string
}

// NativeValue wraps raw community-converter output.
func NativeValue(schema string, data []byte) *Value {
	return &Value{native: data, schema: schema}
}

// ContentValue wraps first-party converter output.
func ContentValue(content *Content) *Value {
	return &Value{content: content}
}

// IsFirstParty reports whether the value already carries parsed content.
func (v *Value) IsFirstParty() bool {
	return v != nil && v.content != nil
}

// Content returns the parsed content, or nil for native values.
func (v *Value) Content() *Content {
	if v == nil {
		return nil
	}
	return v.content
}

// Native returns the raw converter bytes and schema name.
func (v *Value) Native() (string, []byte) {
	if v == nil {
		return "", nil
	}
	return v.schema, v.native
}

// Convert parses a native value into first-party content in place. A value
// that fails to parse degrades into broken content carrying the raw bytes.
func (v *Value) Convert() {
	if v == nil || v.content != nil {
		return
	}
	content, err := ParseContent(v.native)
	if err != nil {
		content = NewBrokenContent(v.native)
	}
	v.content = content
}

// Record is a single upstream log record addressed to the sink.
type Record struct {
	Topic         string
	Partition     int32
	Offset        int64
	Key           *Value
	Value         *Value
	TimestampMs   int64
	TimestampType TimestampType
	Headers       []Header
}

// IsBroken reports whether either part of the record failed to parse.
func (r *Record) IsBroken() bool {
	return r.Key.Content().IsBroken() || r.Value.Content().IsBroken()
}
