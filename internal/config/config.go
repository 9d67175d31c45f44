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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines the connector worker configuration schema.
type Config struct {
	Connector   ConnectorConfig   `yaml:"connector"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	S3          S3Config          `yaml:"s3"`
	Warehouse   WarehouseConfig   `yaml:"warehouse"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Topic2Table map[string]string `yaml:"topic2table"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	BehaviorOnNullValues string `yaml:"behavior_on_null_values"`
}

type ConnectorConfig struct {
	Name string `yaml:"name"`
}

type KafkaConfig struct {
	Brokers               []string `yaml:"brokers"`
	Group                 string   `yaml:"group"`
	Topics                []string `yaml:"topics"`
	CommitIntervalSeconds int      `yaml:"commit_interval_seconds"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

type WarehouseConfig struct {
	AdminURL  string `yaml:"admin_url"`
	IngestURL string `yaml:"ingest_url"`
}

type BufferConfig struct {
	FileSizeBytes    int64 `yaml:"file_size_bytes"`
	RecordCount      int64 `yaml:"record_count"`
	FlushTimeSeconds int64 `yaml:"flush_time_seconds"`
}

// MetadataConfig toggles record metadata fields. Absent toggles default to
// enabled.
type MetadataConfig struct {
	CreateTime         *bool `yaml:"create_time"`
	Topic              *bool `yaml:"topic"`
	OffsetAndPartition *bool `yaml:"offset_and_partition"`
	All                *bool `yaml:"all"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Enabled resolves a metadata toggle with its default.
func Enabled(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

// Load reads and validates the worker configuration.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Connector.Name == "" {
		return Config{}, fmt.Errorf("connector.name is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return Config{}, fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Kafka.Group == "" {
		return Config{}, fmt.Errorf("kafka.group is required")
	}
	if len(cfg.Kafka.Topics) == 0 {
		return Config{}, fmt.Errorf("kafka.topics is required")
	}
	if cfg.S3.Bucket == "" {
		return Config{}, fmt.Errorf("s3.bucket is required")
	}
	if cfg.S3.Region == "" {
		return Config{}, fmt.Errorf("s3.region is required")
	}
	if cfg.Warehouse.AdminURL == "" {
		return Config{}, fmt.Errorf("warehouse.admin_url is required")
	}
	if cfg.Warehouse.IngestURL == "" {
		return Config{}, fmt.Errorf("warehouse.ingest_url is required")
	}
	if cfg.Kafka.CommitIntervalSeconds == 0 {
		cfg.Kafka.CommitIntervalSeconds = 10
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9126"
	}
	switch cfg.BehaviorOnNullValues {
	case "":
		cfg.BehaviorOnNullValues = "default"
	case "default", "ignore":
	default:
		return Config{}, fmt.Errorf("behavior_on_null_values must be default or ignore")
	}

	return cfg, nil
}
