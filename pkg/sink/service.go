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

// Package sink implements the per-partition sink pipeline: buffered record
// accumulation, staged-file flushing, asynchronous ingestion triggering,
// and reconciliation of file outcomes against two status sources, all
// while exposing a committable offset that never runs ahead of data safely
// persisted on the stage.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/stagesink/pkg/records"
	"github.com/novatechflow/stagesink/pkg/stage"
)

const (
	cleanPeriod = 60 * time.Second
	tenMinutes  = 10 * time.Minute
	oneHour     = time.Hour

	// Buffer threshold bounds and defaults.
	BufferSizeBytesMin        = 1
	BufferSizeBytesDefault    = 5_000_000
	BufferCountRecordsDefault = 10_000
	BufferFlushTimeSecMin     = 10
	BufferFlushTimeSecDefault = 120
)

// NullBehavior selects how records with null values (tombstones) are
// handled.
type NullBehavior int

const (
	// NullBehaviorDefault keeps the record even when its value is null.
	NullBehaviorDefault NullBehavior = iota
	// NullBehaviorIgnore drops null-valued records before buffering.
	NullBehaviorIgnore
)

// TopicPartition addresses one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Service owns the per-partition contexts of one sink task and the shared
// flush thresholds.
type Service struct {
	conn          stage.Connection
	recordService *records.Service
	telemetry     Telemetry
	clock         clockwork.Clock
	logger        *slog.Logger

	mu    sync.Mutex
	pipes map[string]*ServiceContext

	fileSize  atomic.Int64
	recordNum atomic.Int64
	flushTime atomic.Int64 // seconds
	stopped   atomic.Bool

	nullBehavior NullBehavior
	topic2Table  map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source; tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithTelemetry injects the telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(s *Service) { s.telemetry = t }
}

// WithLogger injects the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds a sink service over an open connection.
func NewService(conn stage.Connection, opts ...Option) (*Service, error) {
	if conn == nil || conn.IsClosed() {
		return nil, newFatalError(ErrCodeNoConnection, "connection is null or closed")
	}
	s := &Service{
		conn:          conn,
		recordService: records.NewService(),
		telemetry:     NopTelemetry{},
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		pipes:         make(map[string]*ServiceContext),
		topic2Table:   make(map[string]string),
	}
	s.fileSize.Store(BufferSizeBytesDefault)
	s.recordNum.Store(BufferCountRecordsDefault)
	s.flushTime.Store(BufferFlushTimeSecDefault)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartTask registers the partition's context. Insert registers lazily for
// partitions the framework never announced.
func (s *Service) StartTask(tableName, topic string, partition int32) {
	stageName := StageName(s.conn.ConnectorName(), tableName)
	index := nameIndex(topic, partition)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipes[index]; ok {
		s.logger.Error("task is already registered", "name", index)
		return
	}
	pipeName := PipeName(s.conn.ConnectorName(), tableName, partition)
	s.pipes[index] = newServiceContext(s, tableName, stageName, pipeName, topic, partition)
}

func (s *Service) lookupOrStart(topic string, partition int32) *ServiceContext {
	index := nameIndex(topic, partition)
	s.mu.Lock()
	sc, ok := s.pipes[index]
	s.mu.Unlock()
	if ok {
		return sc
	}
	s.logger.Warn("topic partition hasn't been initialized by open", "topic", topic, "partition", partition)
	s.StartTask(TableName(topic, s.topic2Table), topic, partition)
	s.mu.Lock()
	sc = s.pipes[index]
	s.mu.Unlock()
	return sc
}

// Insert routes one record to its partition context.
func (s *Service) Insert(ctx context.Context, rec *records.Record) error {
	return s.lookupOrStart(rec.Topic, rec.Partition).insert(ctx, rec)
}

// InsertAll routes a poll batch, then sweeps every context for a
// time-triggered flush.
func (s *Service) InsertAll(ctx context.Context, recs []*records.Record) error {
	for _, rec := range recs {
		if err := s.Insert(ctx, rec); err != nil {
			return err
		}
	}
	for _, sc := range s.contexts() {
		if sc.shouldFlush() {
			if err := sc.flushBuffer(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetOffset returns the committable offset for a partition, triggering
// ingestion for files flushed since the previous call.
func (s *Service) GetOffset(ctx context.Context, tp TopicPartition) (int64, error) {
	s.mu.Lock()
	sc, ok := s.pipes[nameIndex(tp.Topic, tp.Partition)]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("topic partition hasn't been initialized to get offset", "topic", tp.Topic, "partition", tp.Partition)
		return 0, nil
	}
	return sc.getOffset(ctx)
}

// CommitAll drives getOffset on every registered context, logging failures
// instead of returning them.
func (s *Service) CommitAll(ctx context.Context) {
	for _, sc := range s.contexts() {
		if _, err := sc.getOffset(ctx); err != nil {
			s.logger.Warn("commit sweep failed", "pipe", sc.pipeName, "error", err)
		}
	}
}

// GetPartitionCount returns the number of registered contexts.
func (s *Service) GetPartitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}

func (s *Service) contexts() []*ServiceContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ServiceContext, 0, len(s.pipes))
	for _, sc := range s.pipes {
		out = append(out, sc)
	}
	return out
}

// Close disposes the contexts of revoked partitions.
func (s *Service) Close(partitions []TopicPartition) {
	for _, tp := range partitions {
		index := nameIndex(tp.Topic, tp.Partition)
		s.mu.Lock()
		sc, ok := s.pipes[index]
		delete(s.pipes, index)
		s.mu.Unlock()
		if !ok {
			s.logger.Warn("failed to close sink service, not initialized", "topic", tp.Topic, "partition", tp.Partition)
			continue
		}
		sc.close()
	}
}

// CloseAll stops every cleaner and disposes every context.
func (s *Service) CloseAll() {
	s.stopped.Store(true)
	for _, sc := range s.contexts() {
		sc.close()
	}
	s.mu.Lock()
	s.pipes = make(map[string]*ServiceContext)
	s.mu.Unlock()
}

// Stop sets the global stop flag so cleaner loops exit at their next wake.
func (s *Service) Stop() {
	s.stopped.Store(true)
}

// IsClosed reports whether the service has been stopped.
func (s *Service) IsClosed() bool {
	return s.stopped.Load()
}

func (s *Service) isStopped() bool {
	return s.stopped.Load()
}

// SetRecordNumber sets the record-count flush threshold; negative values
// reset to 0 (disabled).
func (s *Service) SetRecordNumber(num int64) {
	if num < 0 {
		s.logger.Error("record number is negative, reset to 0", "value", num)
		s.recordNum.Store(0)
		return
	}
	s.recordNum.Store(num)
	s.logger.Info("set number of record limitation", "value", num)
}

// SetFileSize sets the size flush threshold; values below the minimum
// reset to the default.
func (s *Service) SetFileSize(size int64) {
	if size < BufferSizeBytesMin {
		s.logger.Error("file size is smaller than the minimum, reset to default",
			"value", size, "min", BufferSizeBytesMin, "default", BufferSizeBytesDefault)
		s.fileSize.Store(BufferSizeBytesDefault)
		return
	}
	s.fileSize.Store(size)
	s.logger.Info("set file size limitation", "bytes", size)
}

// SetFlushTime sets the time flush threshold in seconds; values below the
// minimum are clamped up to it.
func (s *Service) SetFlushTime(seconds int64) {
	if seconds < BufferFlushTimeSecMin {
		s.logger.Error("flush time is smaller than the minimum, reset to minimum",
			"value", seconds, "min", BufferFlushTimeSecMin)
		s.flushTime.Store(BufferFlushTimeSecMin)
		return
	}
	s.flushTime.Store(seconds)
	s.logger.Info("set flush time", "seconds", seconds)
}

// SetTopic2TableMap replaces the topic-to-table mapping. Set before the
// first insert.
func (s *Service) SetTopic2TableMap(topic2Table map[string]string) {
	s.topic2Table = topic2Table
}

// SetMetadataConfig forwards metadata shaping to the record serializer.
func (s *Service) SetMetadataConfig(meta records.MetadataConfig) {
	s.recordService.SetMetadataConfig(meta)
}

// SetBehaviorOnNullValues selects the tombstone policy. Set before the
// first insert.
func (s *Service) SetBehaviorOnNullValues(behavior NullBehavior) {
	s.nullBehavior = behavior
}

// GetRecordNumber returns the record-count threshold.
func (s *Service) GetRecordNumber() int64 { return s.recordNum.Load() }

// GetFileSize returns the size threshold in bytes.
func (s *Service) GetFileSize() int64 { return s.fileSize.Load() }

// GetFlushTime returns the time threshold in seconds.
func (s *Service) GetFlushTime() int64 { return s.flushTime.Load() }

// GetBehaviorOnNullValues returns the tombstone policy.
func (s *Service) GetBehaviorOnNullValues() NullBehavior { return s.nullBehavior }

// shouldSkipNullValue applies the tombstone policy: under IGNORE a record
// is dropped when its value is a community-converter null or a first-party
// content whose value is semantically empty.
func (s *Service) shouldSkipNullValue(rec *records.Record) bool {
	if s.nullBehavior == NullBehaviorDefault {
		return false
	}
	if rec.Value == nil {
		s.logger.Debug("record value is null, skipped", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
		return true
	}
	if rec.Value.IsFirstParty() && rec.Value.Content().IsNull() {
		s.logger.Debug("record value is empty content, skipped", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
		return true
	}
	return false
}

// IsPartitionBufferEmpty reports whether a pipe's buffer holds no data.
// Test hook.
func (s *Service) IsPartitionBufferEmpty(pipeName string) bool {
	for _, sc := range s.contexts() {
		if sc.pipeName == pipeName {
			return sc.isBufferEmpty()
		}
	}
	return false
}
