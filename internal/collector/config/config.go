// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package config loads the collector's YAML configuration file and applies
// defaults. Flags in cmd/ override individual fields after Load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sampler"
)

// Duration wraps time.Duration so YAML accepts human-readable strings
// ("10s", "5m") instead of raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Core      CoreConfig      `yaml:"core"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	Export    ExportConfig    `yaml:"export"`
	Reporter  ReporterConfig  `yaml:"reporter"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type CoreConfig struct {
	// Capacity bounds the pending sample set. Admission may briefly overshoot
	// under concurrency; see the accumulator docs.
	Capacity int64 `yaml:"capacity"`
}

type HarvestConfig struct {
	Interval         Duration `yaml:"interval"`
	IdleAge          Duration `yaml:"idle_age"`
	EvictionInterval Duration `yaml:"eviction_interval"`
}

type ExportConfig struct {
	// Adapter selects the export backend: mock | redis | kafka | postgres.
	Adapter        string   `yaml:"adapter"`
	RedisAddr      string   `yaml:"redis_addr"`
	RedisMarkerTTL Duration `yaml:"redis_marker_ttl"`
	KafkaTopic     string   `yaml:"kafka_topic"`
	PostgresDSN    string   `yaml:"postgres_dsn"`
}

type ReporterConfig struct {
	Buffer        int      `yaml:"buffer"`
	FlushInterval Duration `yaml:"flush_interval"`
	MaxBatch      int      `yaml:"max_batch"`
	// PerPartitionCap limits how many records one partition may contribute to
	// a single export batch, highest priority first. 0 disables the cap.
	PerPartitionCap int `yaml:"per_partition_cap"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	FlowEnabled      bool     `yaml:"flow_enabled"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
	TopPartitions    int      `yaml:"top_partitions"`
	// SampleRate is the fraction of partitions aggregated for the top-N drop
	// snapshot, 0.0..1.0. Global counters always see every event.
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns a configuration with every default applied, for callers
// that run without a YAML file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Core.Capacity == 0 {
		c.Core.Capacity = sampler.DefaultCapacity
	}
	if c.Harvest.Interval == 0 {
		c.Harvest.Interval = Duration(10 * time.Second)
	}
	if c.Harvest.IdleAge == 0 {
		c.Harvest.IdleAge = Duration(5 * time.Minute)
	}
	if c.Harvest.EvictionInterval == 0 {
		c.Harvest.EvictionInterval = Duration(time.Minute)
	}
	if c.Export.Adapter == "" {
		c.Export.Adapter = "mock"
	}
	if c.Export.RedisMarkerTTL == 0 {
		c.Export.RedisMarkerTTL = Duration(24 * time.Hour)
	}
	if c.Export.KafkaTopic == "" {
		c.Export.KafkaTopic = "sampler-harvest"
	}
	if c.Reporter.Buffer == 0 {
		c.Reporter.Buffer = 1024
	}
	if c.Reporter.FlushInterval == 0 {
		c.Reporter.FlushInterval = Duration(500 * time.Millisecond)
	}
	if c.Reporter.MaxBatch == 0 {
		c.Reporter.MaxBatch = 256
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = ":9100"
	}
	if c.Telemetry.SnapshotInterval == 0 {
		c.Telemetry.SnapshotInterval = Duration(30 * time.Second)
	}
	if c.Telemetry.TopPartitions == 0 {
		c.Telemetry.TopPartitions = 5
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
}

// Validate checks ranges and cross-field requirements. Exported so cmd/ can
// re-validate after flag overrides.
func (c *Config) Validate() error {
	if c.Core.Capacity <= 0 {
		return fmt.Errorf("core.capacity must be positive, got %d", c.Core.Capacity)
	}
	if c.Harvest.Interval <= 0 {
		return fmt.Errorf("harvest.interval must be positive")
	}
	if c.Harvest.IdleAge <= 0 {
		return fmt.Errorf("harvest.idle_age must be positive")
	}
	if c.Harvest.EvictionInterval <= 0 {
		return fmt.Errorf("harvest.eviction_interval must be positive")
	}
	switch c.Export.Adapter {
	case "mock", "redis", "kafka", "postgres":
	default:
		return fmt.Errorf("export.adapter must be one of mock|redis|kafka|postgres, got %q", c.Export.Adapter)
	}
	if c.Export.Adapter == "postgres" && c.Export.PostgresDSN == "" {
		return fmt.Errorf("export.postgres_dsn is required when export.adapter is postgres")
	}
	if c.Reporter.Buffer <= 0 {
		return fmt.Errorf("reporter.buffer must be positive")
	}
	if c.Reporter.FlushInterval <= 0 {
		return fmt.Errorf("reporter.flush_interval must be positive")
	}
	if c.Reporter.MaxBatch <= 0 {
		return fmt.Errorf("reporter.max_batch must be positive")
	}
	if c.Reporter.PerPartitionCap < 0 {
		return fmt.Errorf("reporter.per_partition_cap must not be negative")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if c.Telemetry.TopPartitions < 1 {
		return fmt.Errorf("telemetry.top_partitions must be at least 1")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0.0 and 1.0, got %g", c.Telemetry.SampleRate)
	}
	return nil
}
