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

import "github.com/prometheus/client_golang/prometheus"

const namespace = "stagesink"

var (
	PipeStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipe_starts_total",
			Help:      "Total pipe initializations by reuse outcome.",
		},
		[]string{"pipe", "reuse_pipe"},
	)
	ProcessedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processed_offset",
			Help:      "Highest offset observed by insert per pipe.",
		},
		[]string{"pipe"},
	)
	FlushedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flushed_offset",
			Help:      "Highest offset written to a stage file per pipe.",
		},
		[]string{"pipe"},
	)
	CommittedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_offset",
			Help:      "Last committed offset per pipe.",
		},
		[]string{"pipe"},
	)
	PurgedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "purged_offset",
			Help:      "Highest offset confirmed loaded and purged per pipe.",
		},
		[]string{"pipe"},
	)
	FileCounts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "file_count",
			Help:      "Staged-file counts per pipe by state.",
		},
		[]string{"pipe", "state"},
	)
	MemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_memory_bytes",
			Help:      "Accounted buffer memory per pipe.",
		},
		[]string{"pipe"},
	)
	CleanerRestarts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cleaner_restarts",
			Help:      "Cleaner file resets per pipe since start.",
		},
		[]string{"pipe"},
	)
	LagAverage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lag_average_ms",
			Help:      "Average lag per pipe by kind (kafka, commit, ingestion).",
		},
		[]string{"pipe", "kind"},
	)
	FatalErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Total fatal errors reported by the sink.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PipeStartsTotal,
		ProcessedOffset,
		FlushedOffset,
		CommittedOffset,
		PurgedOffset,
		FileCounts,
		MemoryUsage,
		CleanerRestarts,
		LagAverage,
		FatalErrorsTotal,
	)
}
