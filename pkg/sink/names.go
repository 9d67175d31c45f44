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
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// Staged-file names carry the full addressing a restart needs: connector,
// table, partition, offset range, and upload time. The stage listing plus
// these names is the only persisted state.

const (
	stagedFileSuffix = ".json.gz"
	brokenFileSuffix = ".gz"
)

// StageName derives the internal stage name for a table.
func StageName(connectorName, tableName string) string {
	return connectorName + "_stage_" + tableName
}

// PipeName derives the per-partition pipe name.
func PipeName(connectorName, tableName string, partition int32) string {
	return fmt.Sprintf("%s_pipe_%s_%d", connectorName, tableName, partition)
}

// FilePrefix is the per-partition namespace on the stage.
func FilePrefix(connectorName, tableName string, partition int32) string {
	return fmt.Sprintf("%s/%s/%d/", connectorName, tableName, partition)
}

// FileName encodes a staged file: prefix + startOffset_endOffset_ingestTime.
func FileName(prefix string, startOffset, endOffset, ingestTimeMs int64) string {
	return fmt.Sprintf("%s%d_%d_%d%s", prefix, startOffset, endOffset, ingestTimeMs, stagedFileSuffix)
}

// BrokenRecordFileName encodes a quarantine file for one broken record
// part. Broken names form a parallel namespace distinguished by the
// key/value marker and a bare .gz suffix.
func BrokenRecordFileName(prefix string, offset int64, isKey bool, ingestTimeMs int64) string {
	part := "value"
	if isKey {
		part = "key"
	}
	return fmt.Sprintf("%s%d_%s_%d%s", prefix, offset, part, ingestTimeMs, brokenFileSuffix)
}

// fileNameFields extracts the three encoded fields from a staged-file
// name, tolerating a leading stage path.
func fileNameFields(name string) ([]string, error) {
	base := name
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if !strings.HasSuffix(base, stagedFileSuffix) {
		return nil, fmt.Errorf("unexpected file name: %s", name)
	}
	base = strings.TrimSuffix(base, stagedFileSuffix)
	fields := strings.Split(base, "_")
	if len(fields) != 3 {
		return nil, fmt.Errorf("unexpected file name: %s", name)
	}
	return fields, nil
}

// FileNameToStartOffset decodes the first offset in the file.
func FileNameToStartOffset(name string) (int64, error) {
	fields, err := fileNameFields(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

// FileNameToEndOffset decodes the last offset in the file.
func FileNameToEndOffset(name string) (int64, error) {
	fields, err := fileNameFields(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(fields[1], 10, 64)
}

// FileNameToTimeIngested decodes the upload time in epoch milliseconds.
func FileNameToTimeIngested(name string) (int64, error) {
	fields, err := fileNameFields(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(fields[2], 10, 64)
}

var validObjectName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
var invalidObjectChar = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TableName resolves the destination table for a topic: the explicit
// mapping wins; otherwise the topic is mangled into a valid object name,
// with a hash appended whenever mangling changed it.
func TableName(topic string, topic2Table map[string]string) string {
	if table, ok := topic2Table[topic]; ok {
		return table
	}
	if validObjectName.MatchString(topic) {
		return topic
	}
	mangled := invalidObjectChar.ReplaceAllString(topic, "_")
	if len(mangled) == 0 || (mangled[0] >= '0' && mangled[0] <= '9') || mangled[0] == '_' {
		mangled = "t_" + mangled
	}
	h := fnv.New32a()
	h.Write([]byte(topic))
	return fmt.Sprintf("%s_%d", mangled, h.Sum32())
}

func nameIndex(topic string, partition int32) string {
	return fmt.Sprintf("%s_%d", topic, partition)
}
