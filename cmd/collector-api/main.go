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

// Package main provides the entry point for the sample collector service.
//
// The service admits probe-origin samples into a bounded in-memory
// accumulator on the request hot path, and a single background harvester
// drains them per partition into an export pipeline. This file is
// responsible for orchestrating the whole thing:
//  1. Loading configuration (YAML file, with flags overriding individual fields).
//  2. Initializing the core components (accumulator, registry, pipeline).
//  3. Starting the background harvester and the export reporter.
//  4. Starting the API server to handle live traffic.
//  5. Managing graceful shutdown so admitted samples are drained, not dropped.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"sampler"
	"sampler/internal/collector/api"
	"sampler/internal/collector/config"
	"sampler/internal/collector/core"
	"sampler/internal/collector/export"
	"sampler/internal/collector/telemetry/flow"
	"sampler/internal/sinks"
	"sampler/plugin/probe"
)

func main() {
	// In plain words (what this service does):
	//   - Applications POST samples to /sample. Ambient traffic passes through
	//     untouched; probe-origin samples compete for a small bounded buffer.
	//   - Admission is a couple of atomic operations, so the caller never waits
	//     and never blocks behind a harvest.
	//   - A background harvester periodically drains one application's samples
	//     at a time, in arrival order, and hands them to the reporter, which
	//     batches them to the configured export backend (redis, kafka,
	//     postgres, or an in-process mock).
	//
	// Why it's built this way:
	//   - Bounded memory → a misbehaving app can fill the buffer but never the
	//     process. Excess samples are rejected with a 429, not queued.
	//   - Lossless harvest → everything admitted is either exported or still
	//     pending; the optional JSONL audit and record logs let you replay and
	//     verify that conservation end to end.
	//   - The capacity check is deliberately optimistic: a racing producer can
	//     briefly land one extra sample. Harvest corrects the count wholesale,
	//     so the overshoot never accumulates.
	//
	// How to try it quickly:
	//   1) Run this server:          go run ./cmd/collector-api
	//   2) Offer a sample:           curl -X POST "http://localhost:8080/sample?app=checkout"
	//   3) Watch the pending set:    curl "http://localhost:8080/pending"
	//   4) Force a drain:            curl -X POST "http://localhost:8080/harvest?app=checkout"
	//   On Ctrl+C the harvester runs a final sweep and the exporter prints a
	//   summary of everything it shipped.

	// 1. Parse configuration flags. A YAML file supplies the baseline; any
	// flag set explicitly on the command line wins over the file.
	cfgPath := flag.String("config", "", "Path to YAML config file; flags override individual values")
	capacity := flag.Int64("capacity", sampler.DefaultCapacity, "Bound on pending samples across all partitions")
	harvestInterval := flag.Duration("harvest_interval", 10*time.Second, "How often the background harvester sweeps tracked partitions")
	idleAge := flag.Duration("idle_age", 5*time.Minute, "Drop a partition from tracking after this long without samples")
	evictionInterval := flag.Duration("eviction_interval", time.Minute, "How often to scan for idle partitions")
	exportAdapter := flag.String("export_adapter", "mock", "Export backend: mock|redis|kafka|postgres")
	redisAddr := flag.String("redis_addr", "", "Redis address for the redis adapter (empty uses a logging client)")
	kafkaTopic := flag.String("kafka_topic", "sampler-harvest", "Topic for the kafka adapter")
	postgresDSN := flag.String("postgres_dsn", "", "DSN for the postgres adapter")
	flushInterval := flag.Duration("flush_interval", 500*time.Millisecond, "Reporter flush cadence")
	maxBatch := flag.Int("max_batch", 256, "Max records per export batch")
	perPartitionCap := flag.Int("per_partition_cap", 0, "Max records one partition contributes per batch, highest priority first (0 disables)")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	recordLog := flag.String("record_log", "", "If non-empty, append every exported record to this JSONL file")
	sampleLog := flag.String("sample_log", "", "If non-empty, append an audit entry per admitted sample to this JSONL file")
	// Telemetry flags (opt-in)
	flowEnabled := flag.Bool("flow_metrics", false, "Enable in-process flow telemetry (opt-in)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9100)")
	flowSample := flag.Float64("flow_sample", 1.0, "Fraction of partitions aggregated for the drop snapshot (0..1)")
	snapshotInterval := flag.Duration("snapshot_interval", 30*time.Second, "If > 0, periodically log a flow snapshot. 0 disables.")
	topPartitions := flag.Int("top_partitions", 5, "Top N partitions by drops to include in snapshots")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *cfgPath, err)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "capacity":
			cfg.Core.Capacity = *capacity
		case "harvest_interval":
			cfg.Harvest.Interval = config.Duration(*harvestInterval)
		case "idle_age":
			cfg.Harvest.IdleAge = config.Duration(*idleAge)
		case "eviction_interval":
			cfg.Harvest.EvictionInterval = config.Duration(*evictionInterval)
		case "export_adapter":
			cfg.Export.Adapter = *exportAdapter
		case "redis_addr":
			cfg.Export.RedisAddr = *redisAddr
		case "kafka_topic":
			cfg.Export.KafkaTopic = *kafkaTopic
		case "postgres_dsn":
			cfg.Export.PostgresDSN = *postgresDSN
		case "flush_interval":
			cfg.Reporter.FlushInterval = config.Duration(*flushInterval)
		case "max_batch":
			cfg.Reporter.MaxBatch = *maxBatch
		case "per_partition_cap":
			cfg.Reporter.PerPartitionCap = *perPartitionCap
		case "http_addr":
			cfg.API.Addr = *httpAddr
		case "flow_metrics":
			cfg.Telemetry.FlowEnabled = *flowEnabled
		case "metrics_addr":
			cfg.Telemetry.MetricsAddr = *metricsAddr
		case "flow_sample":
			cfg.Telemetry.SampleRate = *flowSample
		case "snapshot_interval":
			cfg.Telemetry.SnapshotInterval = config.Duration(*snapshotInterval)
		case "top_partitions":
			cfg.Telemetry.TopPartitions = *topPartitions
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Capture effective configuration for the final metrics printout.
	core.SetThresholdInt64("capacity", cfg.Core.Capacity)
	core.SetThresholdDuration("harvest_interval", cfg.Harvest.Interval.Std())
	core.SetThresholdDuration("idle_age", cfg.Harvest.IdleAge.Std())
	core.SetThresholdDuration("eviction_interval", cfg.Harvest.EvictionInterval.Std())
	core.SetThreshold("export_adapter", cfg.Export.Adapter)
	core.SetThresholdDuration("flush_interval", cfg.Reporter.FlushInterval.Std())
	core.SetThresholdInt64("max_batch", int64(cfg.Reporter.MaxBatch))
	core.SetThresholdInt64("per_partition_cap", int64(cfg.Reporter.PerPartitionCap))
	core.SetThreshold("http_addr", cfg.API.Addr)
	core.SetThresholdBool("flow_metrics", cfg.Telemetry.FlowEnabled)
	core.SetThreshold("metrics_addr", cfg.Telemetry.MetricsAddr)
	core.SetThresholdFloat64("flow_sample", cfg.Telemetry.SampleRate)
	core.SetThreshold("record_log", *recordLog)
	core.SetThreshold("sample_log", *sampleLog)

	// Initialize flow telemetry. The side /metrics endpoint only binds when
	// the module is enabled; the API mux serves the registry either way.
	flowMetricsAddr := ""
	if cfg.Telemetry.FlowEnabled {
		flowMetricsAddr = cfg.Telemetry.MetricsAddr
	}
	flow.Enable(flow.Config{
		Enabled:     cfg.Telemetry.FlowEnabled,
		SampleRate:  cfg.Telemetry.SampleRate,
		MetricsAddr: flowMetricsAddr,
		LogInterval: cfg.Telemetry.SnapshotInterval.Std(),
		TopN:        cfg.Telemetry.TopPartitions,
	})

	// 2. Initialize core components.
	acc := sampler.New(cfg.Core.Capacity)
	registry := core.NewRegistry()

	// 3. Build the export backend. The postgres adapter needs an opened
	// handle; every other adapter is self-contained.
	var db *sql.DB
	if cfg.Export.Adapter == "postgres" {
		var err error
		db, err = sql.Open("postgres", cfg.Export.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer db.Close()
	}
	exporter, err := export.BuildExporter(cfg.Export.Adapter, export.DemoOptions{
		RedisMarkerTTL: cfg.Export.RedisMarkerTTL.Std(),
		RedisAddr:      cfg.Export.RedisAddr,
		KafkaTopic:     cfg.Export.KafkaTopic,
		PostgresDB:     db,
	})
	if err != nil {
		log.Fatalf("build exporter: %v", err)
	}

	// 4. Create and start the reporter. It receives every harvest batch,
	// orders it, and ships it to the exporter on a bounded cadence.
	ropts := probe.ReporterOptions{
		Buffer:        cfg.Reporter.Buffer,
		FlushInterval: cfg.Reporter.FlushInterval.Std(),
		MaxBatch:      cfg.Reporter.MaxBatch,
		StateFn:       func() (int64, int) { return acc.Pending(), registry.Len() },
	}
	if cfg.Reporter.PerPartitionCap > 0 {
		ropts.Selector = probe.PrioritySelector{PerPartitionCap: cfg.Reporter.PerPartitionCap}
	}
	var recordSink *sinks.RecordFileSink
	if *recordLog != "" {
		recordSink, err = sinks.NewRecordFileSink(*recordLog)
		if err != nil {
			log.Fatalf("open record log: %v", err)
		}
		ropts.RecordSink = recordSink
	}
	reporter := probe.NewReporter(exporter, ropts)
	reporter.Start()

	// 5. Create and start the background harvester. It owns every Harvest
	// call, which is what makes the single-harvester contract hold.
	harvester := core.NewHarvester(acc, registry, reporter,
		cfg.Harvest.Interval.Std(), cfg.Harvest.IdleAge.Std(), cfg.Harvest.EvictionInterval.Std())
	harvester.Start()

	// 6. Create the admission pipeline and the API server.
	popts := probe.PipelineOptions{}
	var sampleSink *sinks.SampleFileSink
	if *sampleLog != "" {
		sampleSink, err = sinks.NewSampleFileSink(*sampleLog)
		if err != nil {
			log.Fatalf("open sample log: %v", err)
		}
		popts.Audit = sampleSink
	}
	pipeline := probe.NewPipeline(acc, registry, popts)
	apiServer := api.NewServer(pipeline, registry, harvester)

	// Using the ListenAndServe method from the api.Server is not ideal for
	// graceful shutdown, so we configure the http.Server instance here.
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 7. Start the HTTP server in a separate goroutine so it doesn't block.
	go func() {
		fmt.Printf("Sample collector API server listening on %s\n", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.API.Addr, err)
		}
	}()

	// 8. Wait here for an OS signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down server...")

	// 9. Stop intake first so nothing new lands in the accumulator, then let
	// the drain chain run: the harvester's shutdown path sweeps every tracked
	// partition one last time, and the reporter's shutdown path flushes
	// whatever those sweeps produced.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	harvester.Stop()
	reporter.Stop()

	// Print a single end-of-process export summary.
	exporter.PrintFinalSummary()

	if recordSink != nil {
		_ = recordSink.Close()
	}
	if sampleSink != nil {
		_ = sampleSink.Close()
	}

	fmt.Println("Server gracefully stopped.")
}
