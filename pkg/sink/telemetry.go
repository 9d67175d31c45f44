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

import "sync/atomic"

// Telemetry is the capability interface the sink reports through. The core
// does not depend on any metrics runtime; implementations live with the
// service glue.
type Telemetry interface {
	ReportPipeStart(creation PipeCreation)
	ReportPipeUsage(status *PipeStatus, closing bool)
	ReportFatalError(message string)
}

// NopTelemetry discards every report.
type NopTelemetry struct{}

func (NopTelemetry) ReportPipeStart(PipeCreation)      {}
func (NopTelemetry) ReportPipeUsage(*PipeStatus, bool) {}
func (NopTelemetry) ReportFatalError(string)           {}

// PipeCreation records what pipe initialization found and created.
type PipeCreation struct {
	TableName     string
	StageName     string
	PipeName      string
	ConnectorName string

	IsReuseTable bool
	IsReuseStage bool
	IsReusePipe  bool

	FileCountRestart        int
	FileCountReprocessPurge int
}

// LagStat accumulates a latency series as count, sum and max, all in
// milliseconds.
type LagStat struct {
	count atomic.Int64
	sumMs atomic.Int64
	maxMs atomic.Int64
}

// Update folds one observation into the series.
func (l *LagStat) Update(ms int64) {
	if ms < 0 {
		ms = 0
	}
	l.count.Add(1)
	l.sumMs.Add(ms)
	for {
		cur := l.maxMs.Load()
		if ms <= cur || l.maxMs.CompareAndSwap(cur, ms) {
			return
		}
	}
}

// Count returns the number of observations.
func (l *LagStat) Count() int64 { return l.count.Load() }

// AverageMs returns the mean observation, 0 when empty.
func (l *LagStat) AverageMs() int64 {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return l.sumMs.Load() / n
}

// MaxMs returns the largest observation.
func (l *LagStat) MaxMs() int64 { return l.maxMs.Load() }

// PipeStatus is the live telemetry of one pipe. All fields are atomics;
// readers may sample them at any time.
type PipeStatus struct {
	TableName     string
	StageName     string
	PipeName      string
	ConnectorName string

	ProcessedOffset atomic.Int64
	FlushedOffset   atomic.Int64
	CommittedOffset atomic.Int64
	PurgedOffset    atomic.Int64

	FileCountOnStage                atomic.Int64
	FileCountOnIngestion            atomic.Int64
	FileCountPurged                 atomic.Int64
	FileCountTableStageIngestFail   atomic.Int64
	FileCountTableStageBrokenRecord atomic.Int64

	CleanerRestartCount atomic.Int64
	MemoryUsage         atomic.Int64
	TotalSizeOfData     atomic.Int64
	TotalNumberOfRecord atomic.Int64

	KafkaLag     LagStat
	CommitLag    LagStat
	IngestionLag LagStat
}

// NewPipeStatus initializes status for one pipe with offsets at their
// pre-ingest sentinels.
func NewPipeStatus(tableName, stageName, pipeName, connectorName string) *PipeStatus {
	s := &PipeStatus{
		TableName:     tableName,
		StageName:     stageName,
		PipeName:      pipeName,
		ConnectorName: connectorName,
	}
	s.ProcessedOffset.Store(-1)
	s.FlushedOffset.Store(-1)
	s.CommittedOffset.Store(-1)
	s.PurgedOffset.Store(-1)
	return s
}

// RaisePurgedOffset lifts the purged offset to at least endOffset.
func (s *PipeStatus) RaisePurgedOffset(endOffset int64) {
	for {
		cur := s.PurgedOffset.Load()
		if endOffset <= cur || s.PurgedOffset.CompareAndSwap(cur, endOffset) {
			return
		}
	}
}
