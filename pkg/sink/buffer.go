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

import "strings"

// PartitionBuffer accumulates serialized records for one partition until a
// flush threshold trips. It is not safe for concurrent use; the service
// context serializes access under its buffer lock and replaces the whole
// buffer at flush.
type PartitionBuffer struct {
	builder     strings.Builder
	numOfRecord int
	bufferSize  int64
	firstOffset int64
	lastOffset  int64
}

// NewPartitionBuffer returns an empty buffer.
func NewPartitionBuffer() *PartitionBuffer {
	return &PartitionBuffer{firstOffset: -1, lastOffset: -1}
}

// Insert appends one serialized record and returns the accounted byte
// delta. Size is counted as two bytes per character of the serialized
// text; this is an accounting convention, not a true byte length.
func (b *PartitionBuffer) Insert(data string, offset int64) int64 {
	if b.bufferSize == 0 {
		b.firstOffset = offset
	}
	b.builder.WriteString(data)
	b.numOfRecord++
	added := int64(len(data)) * 2
	b.bufferSize += added
	b.lastOffset = offset
	return added
}

// IsEmpty reports whether no records have been inserted.
func (b *PartitionBuffer) IsEmpty() bool {
	return b.numOfRecord == 0
}

// Data returns the concatenated serialized records.
func (b *PartitionBuffer) Data() string {
	return b.builder.String()
}

// NumOfRecord returns the record count.
func (b *PartitionBuffer) NumOfRecord() int {
	return b.numOfRecord
}

// BufferSize returns the accounted size in bytes.
func (b *PartitionBuffer) BufferSize() int64 {
	return b.bufferSize
}

// FirstOffset returns the offset of the first buffered record, -1 if empty.
func (b *PartitionBuffer) FirstOffset() int64 {
	return b.firstOffset
}

// LastOffset returns the offset of the last buffered record, -1 if empty.
func (b *PartitionBuffer) LastOffset() int64 {
	return b.lastOffset
}
