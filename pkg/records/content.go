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
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the parsed form of a record key or value. It is either
// structured (an ordered sequence of JSON nodes) or broken (the raw bytes
// that failed to parse).
type Content struct {
	nodes  []json.RawMessage
	broken []byte
	isBrkn bool
}

var emptyNode = json.RawMessage(`{}`)

// ParseContent decodes raw converter output into structured content.
// Input may hold a single JSON document or a concatenated stream of
// documents; each document becomes one node. Empty input yields a single
// empty node, which marks a semantically null value.
func ParseContent(data []byte) (*Content, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Content{nodes: []json.RawMessage{emptyNode}}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var nodes []json.RawMessage
	for dec.More() {
		var node json.RawMessage
		if err := dec.Decode(&node); err != nil {
			return nil, fmt.Errorf("parse record content: %w", err)
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return &Content{nodes: []json.RawMessage{emptyNode}}, nil
	}
	return &Content{nodes: nodes}, nil
}

// NewBrokenContent wraps bytes that could not be parsed.
func NewBrokenContent(data []byte) *Content {
	return &Content{broken: append([]byte(nil), data...), isBrkn: true}
}

// NewStructuredContent builds content from already-decoded nodes.
func NewStructuredContent(nodes ...json.RawMessage) *Content {
	if len(nodes) == 0 {
		nodes = []json.RawMessage{emptyNode}
	}
	return &Content{nodes: nodes}
}

// IsBroken reports whether the content carries unparseable bytes. Safe on
// a nil receiver.
func (c *Content) IsBroken() bool {
	return c != nil && c.isBrkn
}

// BrokenData returns the raw bytes of broken content.
func (c *Content) BrokenData() []byte {
	return c.broken
}

// Nodes returns the structured nodes. Nil for broken content.
func (c *Content) Nodes() []json.RawMessage {
	return c.nodes
}

// IsNull reports whether the value is semantically empty: a single empty
// JSON node, which is what the first-party converters emit for tombstones.
func (c *Content) IsNull() bool {
	if c.isBrkn || len(c.nodes) != 1 {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(c.nodes[0]), []byte(`{}`))
}

// Bytes renders the content for table-stage quarantine. Broken content
// yields its raw bytes. Structured content keeps the legacy human-readable
// rendering of the node list.
func (c *Content) Bytes() []byte {
	if c.isBrkn {
		return c.broken
	}
	parts := make([]string, len(c.nodes))
	for i, node := range c.nodes {
		parts[i] = string(node)
	}
	return []byte("[" + strings.Join(parts, ", ") + "]")
}
