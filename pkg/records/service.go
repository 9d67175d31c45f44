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
	"fmt"
)

// MetadataConfig selects which metadata fields accompany each record.
// All toggles default to on.
type MetadataConfig struct {
	CreateTime         bool
	Topic              bool
	OffsetAndPartition bool
	All                bool
}

// DefaultMetadataConfig enables every metadata field.
func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{CreateTime: true, Topic: true, OffsetAndPartition: true, All: true}
}

// Service serializes records into the staged-file row format: one JSON
// document per record, content plus shaped metadata, newline terminated.
type Service struct {
	meta MetadataConfig
}

// NewService returns a serializer with full metadata.
func NewService() *Service {
	return &Service{meta: DefaultMetadataConfig()}
}

// SetMetadataConfig replaces the metadata shaping configuration.
func (s *Service) SetMetadataConfig(meta MetadataConfig) {
	s.meta = meta
}

type rowMeta struct {
	Offset     *int64            `json:"offset,omitempty"`
	Topic      string            `json:"topic,omitempty"`
	Partition  *int32            `json:"partition,omitempty"`
	Key        json.RawMessage   `json:"key,omitempty"`
	CreateTime *int64            `json:"CreateTime,omitempty"`
	LogAppend  *int64            `json:"LogAppendTime,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type row struct {
	Content json.RawMessage `json:"content"`
	Meta    *rowMeta        `json:"meta,omitempty"`
}

// ProcessRecord renders one record. Content must already be converted and
// not broken; broken records are quarantined before serialization.
func (s *Service) ProcessRecord(rec *Record) (string, error) {
	content := rec.Value.Content()
	if content.IsBroken() {
		return "", fmt.Errorf("cannot serialize broken record at offset %d", rec.Offset)
	}

	var contentNode json.RawMessage
	switch {
	case content == nil || len(content.Nodes()) == 0:
		contentNode = json.RawMessage(`{}`)
	case len(content.Nodes()) == 1:
		contentNode = content.Nodes()[0]
	default:
		joined, err := json.Marshal(content.Nodes())
		if err != nil {
			return "", fmt.Errorf("marshal content nodes: %w", err)
		}
		contentNode = joined
	}

	out := row{Content: contentNode}
	if s.meta.All {
		out.Meta = s.buildMeta(rec)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal record at offset %d: %w", rec.Offset, err)
	}
	return string(data) + "\n", nil
}

func (s *Service) buildMeta(rec *Record) *rowMeta {
	meta := &rowMeta{}
	if s.meta.OffsetAndPartition {
		offset := rec.Offset
		partition := rec.Partition
		meta.Offset = &offset
		meta.Partition = &partition
	}
	if s.meta.Topic {
		meta.Topic = rec.Topic
	}
	if s.meta.CreateTime && rec.TimestampType != NoTimestampType {
		ts := rec.TimestampMs
		if rec.TimestampType == LogAppendTime {
			meta.LogAppend = &ts
		} else {
			meta.CreateTime = &ts
		}
	}
	if key := rec.Key.Content(); key != nil && !key.IsBroken() && len(key.Nodes()) > 0 {
		meta.Key = key.Nodes()[0]
	}
	if len(rec.Headers) > 0 {
		meta.Headers = make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			meta.Headers[h.Key] = string(h.Value)
		}
	}
	return meta
}
