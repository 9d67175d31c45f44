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

package metrics

import (
	"log/slog"
	"strconv"

	"github.com/novatechflow/stagesink/pkg/sink"
)

// Reporter exports sink telemetry to the Prometheus collectors.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter builds the telemetry bridge.
func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

func (r *Reporter) ReportPipeStart(creation sink.PipeCreation) {
	PipeStartsTotal.WithLabelValues(creation.PipeName, strconv.FormatBool(creation.IsReusePipe)).Inc()
	r.logger.Info("pipe started",
		"pipe", creation.PipeName,
		"reuse_table", creation.IsReuseTable,
		"reuse_stage", creation.IsReuseStage,
		"reuse_pipe", creation.IsReusePipe,
		"files_on_restart", creation.FileCountRestart,
		"files_reprocess_purge", creation.FileCountReprocessPurge,
	)
}

func (r *Reporter) ReportPipeUsage(status *sink.PipeStatus, closing bool) {
	pipe := status.PipeName
	ProcessedOffset.WithLabelValues(pipe).Set(float64(status.ProcessedOffset.Load()))
	FlushedOffset.WithLabelValues(pipe).Set(float64(status.FlushedOffset.Load()))
	CommittedOffset.WithLabelValues(pipe).Set(float64(status.CommittedOffset.Load()))
	PurgedOffset.WithLabelValues(pipe).Set(float64(status.PurgedOffset.Load()))
	FileCounts.WithLabelValues(pipe, "on_stage").Set(float64(status.FileCountOnStage.Load()))
	FileCounts.WithLabelValues(pipe, "on_ingestion").Set(float64(status.FileCountOnIngestion.Load()))
	FileCounts.WithLabelValues(pipe, "purged").Set(float64(status.FileCountPurged.Load()))
	FileCounts.WithLabelValues(pipe, "table_stage_ingest_fail").Set(float64(status.FileCountTableStageIngestFail.Load()))
	FileCounts.WithLabelValues(pipe, "table_stage_broken_record").Set(float64(status.FileCountTableStageBrokenRecord.Load()))
	MemoryUsage.WithLabelValues(pipe).Set(float64(status.MemoryUsage.Load()))
	CleanerRestarts.WithLabelValues(pipe).Set(float64(status.CleanerRestartCount.Load()))
	LagAverage.WithLabelValues(pipe, "kafka").Set(float64(status.KafkaLag.AverageMs()))
	LagAverage.WithLabelValues(pipe, "commit").Set(float64(status.CommitLag.AverageMs()))
	LagAverage.WithLabelValues(pipe, "ingestion").Set(float64(status.IngestionLag.AverageMs()))
	if closing {
		r.logger.Info("final pipe report",
			"pipe", pipe,
			"processed_offset", status.ProcessedOffset.Load(),
			"flushed_offset", status.FlushedOffset.Load(),
			"committed_offset", status.CommittedOffset.Load(),
			"purged_offset", status.PurgedOffset.Load(),
			"records_total", status.TotalNumberOfRecord.Load(),
			"bytes_total", status.TotalSizeOfData.Load(),
		)
	}
}

func (r *Reporter) ReportFatalError(message string) {
	FatalErrorsTotal.Inc()
	r.logger.Error("sink fatal error", "error", message)
}

var _ sink.Telemetry = (*Reporter)(nil)
