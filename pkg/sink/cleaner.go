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
	"context"
	"fmt"

	"github.com/novatechflow/stagesink/pkg/ingest"
)

// startCleaner scans the stage for files left by a previous run, splits
// them into reprocess (upstream will re-deliver those offsets; purge) and
// preserve (presumed in flight on the ingestion service; reconcile), seeds
// the cleaner list with the preserve set, and launches the background
// tasks.
func (sc *ServiceContext) startCleaner(ctx context.Context, recordOffset int64, creation *PipeCreation) error {
	currentFilesOnStage, err := sc.conn.ListStage(ctx, sc.stageName, sc.prefix)
	if err != nil {
		return fmt.Errorf("list stage %s: %w", sc.stageName, err)
	}

	reprocessFiles, preserveFiles, err := filterFileReprocess(currentFilesOnStage, recordOffset)
	if err != nil {
		return err
	}

	creation.FileCountRestart = len(preserveFiles)
	creation.FileCountReprocessPurge = len(reprocessFiles)
	// Preserved files must be on ingestion, otherwise their offsets were
	// never committed and the reprocess filter would have removed them.
	sc.pipeStatus.FileCountOnIngestion.Add(int64(len(preserveFiles)))
	sc.pipeStatus.FileCountOnStage.Add(int64(len(preserveFiles)))

	sc.fileListLock.Lock()
	sc.cleanerFileNames = append(sc.cleanerFileNames, preserveFiles...)
	sc.fileListLock.Unlock()

	cleanerCtx, cancel := context.WithCancel(context.Background())
	sc.cleanerCancel = cancel
	go sc.cleanerLoop(cleanerCtx)

	if len(reprocessFiles) > 0 {
		go sc.reprocessPurge(cleanerCtx, reprocessFiles)
	} else {
		close(sc.reprocessDone)
	}
	return nil
}

// filterFileReprocess splits a stage listing on the incoming record
// offset: a file whose start offset is at or past it will be produced
// again by the upstream log, so the stage copy is redundant.
func filterFileReprocess(currentFilesOnStage []string, recordOffset int64) (reprocess, preserve []string, err error) {
	for _, name := range currentFilesOnStage {
		startOffset, err := FileNameToStartOffset(name)
		if err != nil {
			return nil, nil, err
		}
		if recordOffset <= startOffset {
			reprocess = append(reprocess, name)
		} else {
			preserve = append(preserve, name)
		}
	}
	return reprocess, preserve, nil
}

// cleanerLoop reconciles staged files once per clean period until stopped.
// A failed cycle flips forceCleanerFileReset so the next cycle re-lists
// the stage; no in-flight file is ever forgotten.
func (sc *ServiceContext) cleanerLoop(ctx context.Context) {
	defer close(sc.cleanerDone)
	sc.logger.Info("cleaner started")
	for !sc.svc.isStopped() {
		sc.svc.telemetry.ReportPipeUsage(sc.pipeStatus, false)

		select {
		case <-ctx.Done():
			sc.logger.Info("cleaner terminated by an interrupt")
			return
		case <-sc.svc.clock.After(cleanPeriod):
		}

		if sc.forceCleanerFileReset.Load() && sc.resetCleanerFiles(ctx) {
			continue
		}

		if err := sc.checkStatus(ctx); err != nil {
			sc.logger.Warn("cleaner encountered an exception", "error", err)
			sc.svc.telemetry.ReportFatalError(err.Error())
			sc.forceCleanerFileReset.Store(true)
		}
	}
}

// resetCleanerFiles re-lists the stage and unions the result into the
// cleaner list. Returns whether the reset flag is still set (the attempt
// failed and this cycle should be skipped).
func (sc *ServiceContext) resetCleanerFiles(ctx context.Context) bool {
	sc.logger.Warn("resetting cleaner files")
	sc.pipeStatus.CleanerRestartCount.Add(1)
	names, err := sc.conn.ListStage(ctx, sc.stageName, sc.prefix)
	if err != nil {
		sc.logger.Warn("cleaner file reset encountered an error", "error", err)
		return sc.forceCleanerFileReset.Load()
	}

	sc.fileListLock.Lock()
	seen := make(map[string]struct{}, len(sc.cleanerFileNames)+len(names))
	merged := make([]string, 0, len(sc.cleanerFileNames)+len(names))
	for _, name := range append(sc.cleanerFileNames, names...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}
	sc.cleanerFileNames = merged
	sc.fileListLock.Unlock()

	sc.forceCleanerFileReset.Store(false)
	sc.logger.Warn("resetting cleaner files done")
	return false
}

// checkStatus reconciles the current cleaner list: the short-window ingest
// report first, then an age pass, then the load-history scan for files the
// report no longer remembers. Loaded files are purged, failed and over-age
// files are quarantined, the rest go back for the next cycle.
func (sc *ServiceContext) checkStatus(ctx context.Context) error {
	sc.fileListLock.Lock()
	tmpFileNames := sc.cleanerFileNames
	sc.cleanerFileNames = nil
	sc.fileListLock.Unlock()

	nowMs := sc.svc.clock.Now().UnixMilli()
	var loadedFiles, failedFiles []string

	report, err := sc.ingestion.ReadIngestReport(ctx, tmpFileNames)
	if err != nil {
		sc.requeueCleanerFiles(tmpFileNames)
		return fmt.Errorf("read ingest report: %w", err)
	}
	tmpFileNames = filterResultFromIngestScan(report, tmpFileNames, &loadedFiles, &failedFiles)

	// Age pass over a snapshot: over an hour with no terminal status is
	// deemed failed; over ten minutes falls out of the report's retention
	// window and needs the history scan.
	var oldFiles []string
	remaining := make([]string, 0, len(tmpFileNames))
	for _, name := range tmpFileNames {
		ingestedAt, err := FileNameToTimeIngested(name)
		if err != nil {
			sc.requeueCleanerFiles(tmpFileNames)
			return err
		}
		switch {
		case ingestedAt < nowMs-oneHour.Milliseconds():
			failedFiles = append(failedFiles, name)
		case ingestedAt < nowMs-tenMinutes.Milliseconds():
			oldFiles = append(oldFiles, name)
			remaining = append(remaining, name)
		default:
			remaining = append(remaining, name)
		}
	}
	tmpFileNames = remaining

	if len(oldFiles) > 0 {
		history, err := sc.ingestion.ReadOneHourHistory(ctx, tmpFileNames, nowMs-oneHour.Milliseconds())
		if err != nil {
			sc.requeueCleanerFiles(tmpFileNames)
			return fmt.Errorf("read load history: %w", err)
		}
		tmpFileNames = filterResultFromIngestScan(history, tmpFileNames, &loadedFiles, &failedFiles)
	}

	if err := sc.purge(ctx, loadedFiles); err != nil {
		sc.requeueCleanerFiles(tmpFileNames)
		return err
	}
	if err := sc.moveToTableStage(ctx, failedFiles); err != nil {
		sc.requeueCleanerFiles(tmpFileNames)
		return err
	}

	// Files found in neither source wait for the next cycle.
	sc.requeueCleanerFiles(tmpFileNames)

	for _, name := range loadedFiles {
		if endOffset, err := FileNameToEndOffset(name); err == nil {
			sc.pipeStatus.RaisePurgedOffset(endOffset)
		}
		if ingestedAt, err := FileNameToTimeIngested(name); err == nil {
			sc.pipeStatus.IngestionLag.Update(nowMs - ingestedAt)
		}
	}
	removedFromStage := int64(len(loadedFiles) + len(failedFiles))
	sc.pipeStatus.FileCountOnStage.Add(-removedFromStage)
	sc.pipeStatus.FileCountOnIngestion.Add(-removedFromStage)
	sc.pipeStatus.FileCountTableStageIngestFail.Add(int64(len(failedFiles)))
	sc.pipeStatus.FileCountPurged.Add(int64(len(loadedFiles)))
	return nil
}

func (sc *ServiceContext) requeueCleanerFiles(files []string) {
	if len(files) == 0 {
		return
	}
	sc.fileListLock.Lock()
	sc.cleanerFileNames = append(sc.cleanerFileNames, files...)
	sc.fileListLock.Unlock()
}

// filterResultFromIngestScan partitions a status map from either status
// source: LOADED drains to loaded, FAILED and PARTIALLY_LOADED drain to
// failed, everything else stays in the working list.
func filterResultFromIngestScan(fileStatus map[string]ingest.Status, allFiles []string, loadedFiles, failedFiles *[]string) []string {
	remaining := allFiles[:0]
	for _, name := range allFiles {
		switch fileStatus[name] {
		case ingest.StatusLoaded:
			*loadedFiles = append(*loadedFiles, name)
		case ingest.StatusFailed, ingest.StatusPartiallyLoaded:
			*failedFiles = append(*failedFiles, name)
		default:
			remaining = append(remaining, name)
		}
	}
	return remaining
}

func (sc *ServiceContext) purge(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	return sc.conn.PurgeStage(ctx, sc.stageName, files)
}

func (sc *ServiceContext) moveToTableStage(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	return sc.conn.MoveToTableStage(ctx, sc.tableName, sc.stageName, files)
}

// reprocessPurge deletes the reprocess set one clean period after startup,
// giving a concurrently finishing previous owner time to drain.
func (sc *ServiceContext) reprocessPurge(ctx context.Context, reprocessFiles []string) {
	defer close(sc.reprocessDone)
	select {
	case <-ctx.Done():
		return
	case <-sc.svc.clock.After(cleanPeriod):
	}
	if err := sc.purge(ctx, reprocessFiles); err != nil {
		sc.logger.Error("reprocess cleaner encountered an exception", "error", err)
	}
}
