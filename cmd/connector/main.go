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

// Command connector runs the sink worker: consume from the upstream log,
// buffer and flush staged files per partition, trigger ingestion at commit
// time, and reconcile file outcomes in the background.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/novatechflow/stagesink/internal/config"
	"github.com/novatechflow/stagesink/internal/metrics"
	"github.com/novatechflow/stagesink/pkg/records"
	"github.com/novatechflow/stagesink/pkg/sink"
	"github.com/novatechflow/stagesink/pkg/stage"
)

func main() {
	configPath := flag.String("config", "connector.yaml", "path to worker configuration")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*configPath, logger); err != nil {
		logger.Error("connector exited", "error", err)
		os.Exit(1)
	}
}

type assignment struct {
	mu     sync.Mutex
	active map[sink.TopicPartition]struct{}
}

func newAssignment() *assignment {
	return &assignment{active: make(map[sink.TopicPartition]struct{})}
}

func (a *assignment) add(tps []sink.TopicPartition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tp := range tps {
		a.active[tp] = struct{}{}
	}
}

func (a *assignment) remove(tps []sink.TopicPartition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tp := range tps {
		delete(a.active, tp)
	}
}

func (a *assignment) list() []sink.TopicPartition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sink.TopicPartition, 0, len(a.active))
	for tp := range a.active {
		out = append(out, tp)
	}
	return out
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := stage.NewS3Connection(ctx, cfg.Connector.Name, stage.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		ForcePathStyle:  cfg.S3.PathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		SessionToken:    cfg.S3.SessionToken,
		AdminURL:        cfg.Warehouse.AdminURL,
		IngestURL:       cfg.Warehouse.IngestURL,
	})
	if err != nil {
		return fmt.Errorf("build connection: %w", err)
	}
	defer conn.Close()

	svc, err := sink.NewService(conn,
		sink.WithTelemetry(metrics.NewReporter(logger)),
		sink.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	applyBufferConfig(svc, cfg)

	assigned := newAssignment()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.ConsumerGroup(cfg.Kafka.Group),
		kgo.ConsumeTopics(cfg.Kafka.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, parts map[string][]int32) {
			tps := flatten(parts)
			assigned.add(tps)
			for _, tp := range tps {
				svc.StartTask(sink.TableName(tp.Topic, cfg.Topic2Table), tp.Topic, tp.Partition)
			}
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, parts map[string][]int32) {
			tps := flatten(parts)
			assigned.remove(tps)
			commitPartitions(ctx, cl, svc, tps, logger)
			svc.Close(tps)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, parts map[string][]int32) {
			tps := flatten(parts)
			assigned.remove(tps)
			svc.Close(tps)
		}),
	)
	if err != nil {
		return fmt.Errorf("build kafka client: %w", err)
	}
	defer client.Close()

	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	defer metricsServer.Close()

	logger.Info("connector started",
		"connector", cfg.Connector.Name,
		"group", cfg.Kafka.Group,
		"topics", cfg.Kafka.Topics,
	)

	commitInterval := time.Duration(cfg.Kafka.CommitIntervalSeconds) * time.Second
	commitTicker := time.NewTicker(commitInterval)
	defer commitTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			commitPartitions(context.Background(), client, svc, assigned.list(), logger)
			svc.CloseAll()
			logger.Info("connector stopped")
			return nil
		case <-commitTicker.C:
			commitPartitions(ctx, client, svc, assigned.list(), logger)
		default:
		}

		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			continue
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		batch := make([]*records.Record, 0, fetches.NumRecords())
		fetches.EachRecord(func(rec *kgo.Record) {
			batch = append(batch, toSinkRecord(rec))
		})
		if len(batch) > 0 {
			if err := svc.InsertAll(ctx, batch); err != nil {
				// An upload or bootstrap failure is fatal to the task; exit
				// and let the supervisor restart the worker, which re-runs
				// recovery from the stage listing.
				client.AllowRebalance()
				return fmt.Errorf("insert batch: %w", err)
			}
		}
		client.AllowRebalance()
	}
}

func applyBufferConfig(svc *sink.Service, cfg config.Config) {
	if cfg.Buffer.FileSizeBytes != 0 {
		svc.SetFileSize(cfg.Buffer.FileSizeBytes)
	}
	if cfg.Buffer.RecordCount != 0 {
		svc.SetRecordNumber(cfg.Buffer.RecordCount)
	}
	if cfg.Buffer.FlushTimeSeconds != 0 {
		svc.SetFlushTime(cfg.Buffer.FlushTimeSeconds)
	}
	svc.SetTopic2TableMap(cfg.Topic2Table)
	if cfg.BehaviorOnNullValues == "ignore" {
		svc.SetBehaviorOnNullValues(sink.NullBehaviorIgnore)
	}
	svc.SetMetadataConfig(records.MetadataConfig{
		CreateTime:         config.Enabled(cfg.Metadata.CreateTime),
		Topic:              config.Enabled(cfg.Metadata.Topic),
		OffsetAndPartition: config.Enabled(cfg.Metadata.OffsetAndPartition),
		All:                config.Enabled(cfg.Metadata.All),
	})
}

func flatten(parts map[string][]int32) []sink.TopicPartition {
	out := make([]sink.TopicPartition, 0, len(parts))
	for topic, partitions := range parts {
		for _, partition := range partitions {
			out = append(out, sink.TopicPartition{Topic: topic, Partition: partition})
		}
	}
	return out
}

// commitPartitions advances the upstream committed offsets to what the
// sink reports committable. GetOffset also triggers ingestion for files
// flushed since the previous call.
func commitPartitions(ctx context.Context, client *kgo.Client, svc *sink.Service, tps []sink.TopicPartition, logger *slog.Logger) {
	if len(tps) == 0 {
		return
	}
	uncommitted := make(map[string]map[int32]kgo.EpochOffset)
	for _, tp := range tps {
		offset, err := svc.GetOffset(ctx, tp)
		if err != nil {
			logger.Error("get offset failed", "topic", tp.Topic, "partition", tp.Partition, "error", err)
			continue
		}
		if offset <= 0 {
			continue
		}
		byPartition, ok := uncommitted[tp.Topic]
		if !ok {
			byPartition = make(map[int32]kgo.EpochOffset)
			uncommitted[tp.Topic] = byPartition
		}
		byPartition[tp.Partition] = kgo.EpochOffset{Offset: offset, Epoch: -1}
	}
	if len(uncommitted) == 0 {
		return
	}
	client.CommitOffsetsSync(ctx, uncommitted, nil)
}

func toSinkRecord(rec *kgo.Record) *records.Record {
	out := &records.Record{
		Topic:       rec.Topic,
		Partition:   rec.Partition,
		Offset:      rec.Offset,
		TimestampMs: rec.Timestamp.UnixMilli(),
	}
	switch rec.Attrs.TimestampType() {
	case 0:
		out.TimestampType = records.CreateTime
	case 1:
		out.TimestampType = records.LogAppendTime
	default:
		out.TimestampType = records.NoTimestampType
	}
	if rec.Key != nil {
		out.Key = records.NativeValue("", rec.Key)
	}
	if rec.Value != nil {
		out.Value = records.NativeValue("", rec.Value)
	}
	for _, h := range rec.Headers {
		out.Headers = append(out.Headers, records.Header{Key: h.Key, Value: h.Value})
	}
	return out
}
