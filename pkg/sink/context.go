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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/novatechflow/stagesink/pkg/ingest"
	"github.com/novatechflow/stagesink/pkg/records"
	"github.com/novatechflow/stagesink/pkg/stage"
)

// ServiceContext is the per-partition state machine. The producer thread
// drives insert and flush; the cleaner task reconciles staged files; the
// framework's commit callback drives getOffset. Offset counters are
// atomics; the buffer and the file lists each have their own lock, held
// only for mutation and never across remote calls.
type ServiceContext struct {
	svc       *Service
	topic     string
	partition int32
	tableName string
	stageName string
	pipeName  string
	prefix    string

	conn      stage.Connection
	ingestion ingest.Service

	bufferLock sync.Mutex
	buffer     *PartitionBuffer

	fileListLock     sync.Mutex
	fileNames        []string // flushed since the last getOffset
	cleanerFileNames []string // under reconciliation

	processedOffset     atomic.Int64
	flushedOffset       atomic.Int64
	committedOffset     atomic.Int64
	previousFlushTimeMs atomic.Int64

	pipeStatus *PipeStatus

	// hasInitialized is producer-thread confined; the framework delivers a
	// partition's records from a single thread.
	hasInitialized        bool
	forceCleanerFileReset atomic.Bool

	cleanerCancel context.CancelFunc
	cleanerDone   chan struct{}
	reprocessDone chan struct{}

	logger *slog.Logger
}

func newServiceContext(svc *Service, tableName, stageName, pipeName, topic string, partition int32) *ServiceContext {
	sc := &ServiceContext{
		svc:           svc,
		topic:         topic,
		partition:     partition,
		tableName:     tableName,
		stageName:     stageName,
		pipeName:      pipeName,
		prefix:        FilePrefix(svc.conn.ConnectorName(), tableName, partition),
		conn:          svc.conn,
		ingestion:     svc.conn.BuildIngestService(stageName, pipeName),
		buffer:        NewPartitionBuffer(),
		pipeStatus:    NewPipeStatus(tableName, stageName, pipeName, svc.conn.ConnectorName()),
		cleanerDone:   make(chan struct{}),
		reprocessDone: make(chan struct{}),
		logger:        svc.logger.With("pipe", pipeName),
	}
	sc.processedOffset.Store(-1)
	sc.flushedOffset.Store(-1)
	sc.committedOffset.Store(0)
	sc.previousFlushTimeMs.Store(svc.clock.Now().UnixMilli())
	sc.logger.Info("service started")
	return sc
}

// init bootstraps the remote objects and seeds recovery. Runs exactly once
// per context, on the first insert after (re)assignment.
func (sc *ServiceContext) init(ctx context.Context, recordOffset int64) error {
	sc.logger.Info("init pipe")
	creation := PipeCreation{
		TableName:     sc.tableName,
		StageName:     sc.stageName,
		PipeName:      sc.pipeName,
		ConnectorName: sc.conn.ConnectorName(),
	}

	if err := sc.createTableAndStage(ctx, &creation); err != nil {
		return err
	}
	if err := sc.recoverPipe(ctx, &creation); err != nil {
		return err
	}
	if err := sc.startCleaner(ctx, recordOffset, &creation); err != nil {
		return err
	}
	sc.svc.telemetry.ReportPipeStart(creation)
	return nil
}

// createTableAndStage ensures table and stage exist and are compatible, in
// that order. Existing but incompatible objects are fatal.
func (sc *ServiceContext) createTableAndStage(ctx context.Context, creation *PipeCreation) error {
	exists, err := sc.conn.TableExist(ctx, sc.tableName)
	if err != nil {
		return fmt.Errorf("check table %s: %w", sc.tableName, err)
	}
	if exists {
		compatible, err := sc.conn.IsTableCompatible(ctx, sc.tableName)
		if err != nil {
			return fmt.Errorf("check table %s: %w", sc.tableName, err)
		}
		if !compatible {
			return newFatalError(ErrCodeIncompatibleTable, "table name: %s", sc.tableName)
		}
		sc.logger.Info("using existing table", "table", sc.tableName)
		creation.IsReuseTable = true
	} else {
		sc.logger.Info("creating new table", "table", sc.tableName)
		if err := sc.conn.CreateTable(ctx, sc.tableName); err != nil {
			return fmt.Errorf("create table %s: %w", sc.tableName, err)
		}
	}

	exists, err = sc.conn.StageExist(ctx, sc.stageName)
	if err != nil {
		return fmt.Errorf("check stage %s: %w", sc.stageName, err)
	}
	if exists {
		compatible, err := sc.conn.IsStageCompatible(ctx, sc.stageName)
		if err != nil {
			return fmt.Errorf("check stage %s: %w", sc.stageName, err)
		}
		if !compatible {
			return newFatalError(ErrCodeIncompatibleStage, "stage name: %s", sc.stageName)
		}
		sc.logger.Info("using existing stage", "stage", sc.stageName)
		creation.IsReuseStage = true
	} else {
		sc.logger.Info("creating new stage", "stage", sc.stageName)
		if err := sc.conn.CreateStage(ctx, sc.stageName); err != nil {
			return fmt.Errorf("create stage %s: %w", sc.stageName, err)
		}
	}
	return nil
}

// recoverPipe checks pipe status and creates the pipe if absent.
func (sc *ServiceContext) recoverPipe(ctx context.Context, creation *PipeCreation) error {
	exists, err := sc.conn.PipeExist(ctx, sc.pipeName)
	if err != nil {
		return fmt.Errorf("check pipe %s: %w", sc.pipeName, err)
	}
	if exists {
		compatible, err := sc.conn.IsPipeCompatible(ctx, sc.tableName, sc.stageName, sc.pipeName)
		if err != nil {
			return fmt.Errorf("check pipe %s: %w", sc.pipeName, err)
		}
		if !compatible {
			return newFatalError(ErrCodeIncompatiblePipe, "pipe name: %s", sc.pipeName)
		}
		sc.logger.Info("recovered from existing pipe")
		creation.IsReusePipe = true
		return nil
	}
	return sc.conn.CreatePipe(ctx, sc.tableName, sc.stageName, sc.pipeName)
}

// insert is the per-record entry point: lazy init, dedup, conversion,
// tombstone policy, broken-record quarantine, then buffered accumulation
// with threshold-triggered flush.
func (sc *ServiceContext) insert(ctx context.Context, rec *records.Record) error {
	if !sc.hasInitialized {
		// Only called once, when the first offset arrives after connector
		// start or rebalance.
		if err := sc.init(ctx, rec.Offset); err != nil {
			return err
		}
		sc.hasInitialized = true
	}

	// ignore already ingested or in-flight offsets
	if rec.Offset <= sc.processedOffset.Load() {
		return nil
	}

	rec.Key.Convert()
	rec.Value.Convert()

	if sc.svc.shouldSkipNullValue(rec) {
		return nil
	}

	if rec.IsBroken() {
		// The record's non-null parts go to the table stage; the offset is intentionally
		// not advanced so a repaired record at the same offset still flows.
		return sc.writeBrokenDataToTableStage(ctx, rec)
	}

	if rec.TimestampType != records.NoTimestampType {
		sc.pipeStatus.KafkaLag.Update(sc.svc.clock.Now().UnixMilli() - rec.TimestampMs)
	}

	row, err := sc.svc.recordService.ProcessRecord(rec)
	if err != nil {
		return err
	}

	var tmpBuff *PartitionBuffer
	sc.bufferLock.Lock()
	sc.processedOffset.Store(rec.Offset)
	sc.pipeStatus.ProcessedOffset.Store(rec.Offset)
	added := sc.buffer.Insert(row, rec.Offset)
	sc.pipeStatus.MemoryUsage.Add(added)
	if sc.buffer.BufferSize() >= sc.svc.GetFileSize() ||
		(sc.svc.GetRecordNumber() != 0 && int64(sc.buffer.NumOfRecord()) >= sc.svc.GetRecordNumber()) {
		tmpBuff = sc.buffer
		sc.buffer = NewPartitionBuffer()
	}
	sc.bufferLock.Unlock()

	if tmpBuff != nil {
		return sc.flush(ctx, tmpBuff)
	}
	return nil
}

// writeBrokenDataToTableStage quarantines each non-null part of a broken
// record, including a part that parsed cleanly (written with the legacy
// node-list rendering).
func (sc *ServiceContext) writeBrokenDataToTableStage(ctx context.Context, rec *records.Record) error {
	nowMs := sc.svc.clock.Now().UnixMilli()
	if key := rec.Key.Content(); key != nil {
		fileName := BrokenRecordFileName(sc.prefix, rec.Offset, true, nowMs)
		if err := sc.conn.PutToTableStage(ctx, sc.tableName, fileName, key.Bytes()); err != nil {
			return fmt.Errorf("write broken key %s: %w", fileName, err)
		}
		sc.pipeStatus.FileCountTableStageBrokenRecord.Add(1)
	}
	if value := rec.Value.Content(); value != nil {
		fileName := BrokenRecordFileName(sc.prefix, rec.Offset, false, nowMs)
		if err := sc.conn.PutToTableStage(ctx, sc.tableName, fileName, value.Bytes()); err != nil {
			return fmt.Errorf("write broken value %s: %w", fileName, err)
		}
		sc.pipeStatus.FileCountTableStageBrokenRecord.Add(1)
	}
	return nil
}

// shouldFlush reports whether the time threshold has elapsed since the
// previous flush.
func (sc *ServiceContext) shouldFlush() bool {
	return sc.svc.clock.Now().UnixMilli()-sc.previousFlushTimeMs.Load() >= sc.svc.GetFlushTime()*1000
}

// flushBuffer detaches the buffer and flushes it.
func (sc *ServiceContext) flushBuffer(ctx context.Context) error {
	// cheap emptiness probe, no atomicity required
	if sc.isBufferEmpty() {
		return nil
	}
	sc.bufferLock.Lock()
	tmpBuff := sc.buffer
	sc.buffer = NewPartitionBuffer()
	sc.bufferLock.Unlock()
	return sc.flush(ctx, tmpBuff)
}

// flush uploads one detached buffer as a staged file and registers it for
// commit and reconciliation. An upload failure propagates; the buffer was
// already detached, so the framework-level restart re-runs recovery.
func (sc *ServiceContext) flush(ctx context.Context, buff *PartitionBuffer) error {
	if buff == nil || buff.IsEmpty() {
		return nil
	}
	nowMs := sc.svc.clock.Now().UnixMilli()
	sc.previousFlushTimeMs.Store(nowMs)

	fileName := FileName(sc.prefix, buff.FirstOffset(), buff.LastOffset(), nowMs)
	content, err := gzipString(buff.Data())
	if err != nil {
		return fmt.Errorf("compress %s: %w", fileName, err)
	}
	if err := sc.conn.PutWithCache(ctx, sc.stageName, fileName, content); err != nil {
		return fmt.Errorf("upload %s: %w", fileName, err)
	}

	raiseTo := buff.LastOffset() + 1
	for {
		cur := sc.flushedOffset.Load()
		if raiseTo <= cur || sc.flushedOffset.CompareAndSwap(cur, raiseTo) {
			break
		}
	}
	sc.pipeStatus.FlushedOffset.Store(sc.flushedOffset.Load() - 1)
	sc.pipeStatus.FileCountOnStage.Add(1)
	sc.pipeStatus.MemoryUsage.Store(0)
	sc.pipeStatus.TotalSizeOfData.Add(buff.BufferSize())
	sc.pipeStatus.TotalNumberOfRecord.Add(int64(buff.NumOfRecord()))

	sc.fileListLock.Lock()
	sc.fileNames = append(sc.fileNames, fileName)
	sc.cleanerFileNames = append(sc.cleanerFileNames, fileName)
	sc.fileListLock.Unlock()

	sc.logger.Info("flush pipe", "file", fileName)
	return nil
}

// getOffset returns the committable offset. When files were flushed since
// the last call it advances the committed offset to the flushed offset and
// triggers ingestion for exactly those files.
func (sc *ServiceContext) getOffset(ctx context.Context) (int64, error) {
	sc.fileListLock.Lock()
	if len(sc.fileNames) == 0 {
		sc.fileListLock.Unlock()
		return sc.committedOffset.Load(), nil
	}
	fileNamesCopy := sc.fileNames
	sc.fileNames = nil
	sc.fileListLock.Unlock()

	sc.committedOffset.Store(sc.flushedOffset.Load())

	nowMs := sc.svc.clock.Now().UnixMilli()
	sc.pipeStatus.CommittedOffset.Store(sc.committedOffset.Load() - 1)
	sc.pipeStatus.FileCountOnIngestion.Add(int64(len(fileNamesCopy)))
	for _, name := range fileNamesCopy {
		ingestedAt, err := FileNameToTimeIngested(name)
		if err != nil {
			return 0, err
		}
		sc.pipeStatus.CommitLag.Update(nowMs - ingestedAt)
	}
	sc.logger.Info("ingest files", "files", fileNamesCopy)

	// Throws after its internal backoff is exhausted; the framework
	// retries the commit cycle.
	if err := sc.ingestion.IngestFiles(ctx, fileNamesCopy); err != nil {
		return 0, err
	}
	return sc.committedOffset.Load(), nil
}

func (sc *ServiceContext) isBufferEmpty() bool {
	sc.bufferLock.Lock()
	defer sc.bufferLock.Unlock()
	return sc.buffer.IsEmpty()
}

// close stops the cleaner tasks, closes the ingestion client, and emits a
// final telemetry report. Joins are best-effort and never hang.
func (sc *ServiceContext) close() {
	if sc.cleanerCancel != nil {
		sc.cleanerCancel()
		joinDeadline := make(chan struct{})
		joinTimer := time.AfterFunc(3*time.Second, func() { close(joinDeadline) })
		defer joinTimer.Stop()
		select {
		case <-sc.cleanerDone:
		case <-joinDeadline:
			sc.logger.Warn("failed to terminate cleaner")
		}
		select {
		case <-sc.reprocessDone:
		case <-joinDeadline:
		}
	}
	if err := sc.ingestion.Close(); err != nil {
		sc.logger.Warn("failed to close ingestion service", "error", err)
	}
	sc.svc.telemetry.ReportPipeUsage(sc.pipeStatus, true)
	sc.logger.Info("service closed")
}

func gzipString(data string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
