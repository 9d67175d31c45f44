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

package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/novatechflow/stagesink/pkg/ingest"
)

// MemoryConnection is an in-memory Connection for development and testing.
type MemoryConnection struct {
	mu            sync.Mutex
	connectorName string
	tables        map[string]bool // name -> compatible
	stages        map[string]bool
	pipes         map[string]bool
	stageFiles    map[string]map[string][]byte // stage -> file -> content
	tableStage    map[string]map[string][]byte // table -> file -> content
	ingestService ingest.Service
	listErr       error
	putErr        error
	closed        bool
}

// NewMemoryConnection returns an empty in-memory connection.
func NewMemoryConnection(connectorName string) *MemoryConnection {
	return &MemoryConnection{
		connectorName: connectorName,
		tables:        make(map[string]bool),
		stages:        make(map[string]bool),
		pipes:         make(map[string]bool),
		stageFiles:    make(map[string]map[string][]byte),
		tableStage:    make(map[string]map[string][]byte),
		ingestService: ingest.NewMemoryService(),
	}
}

// SetIngestService overrides the service returned by BuildIngestService.
func (m *MemoryConnection) SetIngestService(svc ingest.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestService = svc
}

// AddIncompatibleTable pre-creates a table that fails the compatibility check.
func (m *MemoryConnection) AddIncompatibleTable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = false
}

// AddIncompatibleStage pre-creates a stage that fails the compatibility check.
func (m *MemoryConnection) AddIncompatibleStage(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[name] = false
}

// AddIncompatiblePipe pre-creates a pipe that fails the compatibility check.
func (m *MemoryConnection) AddIncompatiblePipe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipes[name] = false
}

// SeedStageFile places a file directly on a stage.
func (m *MemoryConnection) SeedStageFile(stageName, fileName string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageFor(stageName)[fileName] = append([]byte(nil), content...)
}

// FailList makes ListStage return err until cleared.
func (m *MemoryConnection) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailPut makes stage uploads return err until cleared.
func (m *MemoryConnection) FailPut(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// StageFileNames returns the sorted file names on a stage.
func (m *MemoryConnection) StageFileNames(stageName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.stageFiles[stageName]))
	for name := range m.stageFiles[stageName] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StageFile returns a staged file's content.
func (m *MemoryConnection) StageFile(stageName, fileName string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.stageFiles[stageName][fileName]
	return data, ok
}

// TableStageFileNames returns the sorted quarantine file names for a table.
func (m *MemoryConnection) TableStageFileNames(tableName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tableStage[tableName]))
	for name := range m.tableStage[tableName] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryConnection) stageFor(stageName string) map[string][]byte {
	files, ok := m.stageFiles[stageName]
	if !ok {
		files = make(map[string][]byte)
		m.stageFiles[stageName] = files
	}
	return files
}

func (m *MemoryConnection) tableStageFor(tableName string) map[string][]byte {
	files, ok := m.tableStage[tableName]
	if !ok {
		files = make(map[string][]byte)
		m.tableStage[tableName] = files
	}
	return files
}

func (m *MemoryConnection) TableExist(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[name]
	return ok, nil
}

func (m *MemoryConnection) StageExist(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stages[name]
	return ok, nil
}

func (m *MemoryConnection) PipeExist(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pipes[name]
	return ok, nil
}

func (m *MemoryConnection) IsTableCompatible(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[name], nil
}

func (m *MemoryConnection) IsStageCompatible(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[name], nil
}

func (m *MemoryConnection) IsPipeCompatible(ctx context.Context, tableName, stageName, pipeName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipes[pipeName], nil
}

func (m *MemoryConnection) CreateTable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = true
	return nil
}

func (m *MemoryConnection) CreateStage(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[name] = true
	return nil
}

func (m *MemoryConnection) CreatePipe(ctx context.Context, tableName, stageName, pipeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipes[pipeName] = true
	return nil
}

func (m *MemoryConnection) ListStage(ctx context.Context, stageName, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]string, 0)
	for name := range m.stageFiles[stageName] {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryConnection) PutWithCache(ctx context.Context, stageName, fileName string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.stageFor(stageName)[fileName] = append([]byte(nil), content...)
	return nil
}

func (m *MemoryConnection) PutToTableStage(ctx context.Context, tableName, fileName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.tableStageFor(tableName)[fileName] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryConnection) PurgeStage(ctx context.Context, stageName string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range files {
		delete(m.stageFiles[stageName], f)
	}
	return nil
}

func (m *MemoryConnection) MoveToTableStage(ctx context.Context, tableName, stageName string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range files {
		data, ok := m.stageFiles[stageName][f]
		if !ok {
			continue
		}
		base := f
		if idx := strings.LastIndex(f, "/"); idx >= 0 {
			base = f[idx+1:]
		}
		m.tableStageFor(tableName)[base] = data
		delete(m.stageFiles[stageName], f)
	}
	return nil
}

func (m *MemoryConnection) BuildIngestService(stageName, pipeName string) ingest.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestService
}

func (m *MemoryConnection) ConnectorName() string {
	return m.connectorName
}

func (m *MemoryConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Connection = (*MemoryConnection)(nil)

// String is a debug rendering of the stage contents.
func (m *MemoryConnection) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("memory connection %q: %d stages, %d table stages",
		m.connectorName, len(m.stageFiles), len(m.tableStage))
}
