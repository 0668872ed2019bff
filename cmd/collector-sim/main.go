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

package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sampler"
	"sampler/internal/collector/core"
	"sampler/internal/collector/export"
	"sampler/internal/sinks"
	"sampler/plugin/probe"
)

// metricExporter wraps an Exporter to count the batches and records it accepted.
type metricExporter struct {
	inner      core.Exporter
	batchCtr   prometheus.Counter
	recordCtr  prometheus.Counter
	batchSizes prometheus.Observer
}

func (m metricExporter) ExportBatch(records []core.Record) error {
	if err := m.inner.ExportBatch(records); err != nil {
		return err
	}
	if m.batchCtr != nil {
		m.batchCtr.Inc()
	}
	if m.recordCtr != nil {
		m.recordCtr.Add(float64(len(records)))
	}
	if m.batchSizes != nil {
		m.batchSizes.Observe(float64(len(records)))
	}
	return nil
}

func (m metricExporter) PrintFinalSummary() { m.inner.PrintFinalSummary() }

// metricRecordSink wraps the record sink to observe intervals between exports.
type metricRecordSink struct {
	inner      *sinks.RecordFileSink
	last       atomic.Int64 // unix nano of the previous write, 0 before the first
	exportHist prometheus.Observer
}

func (m *metricRecordSink) OnRecords(recs []core.Record) {
	now := time.Now().UnixNano()
	if prev := m.last.Swap(now); prev != 0 && m.exportHist != nil {
		m.exportHist.Observe(time.Duration(now - prev).Seconds())
	}
	m.inner.OnRecords(recs)
}

func main() {
	// In plain words (what this tool does):
	//   - collector-sim generates a realistic mix of application transactions and
	//     runs them through the full collection pipeline in one process:
	//       • Ambient traffic (the vast majority) passes straight through; it
	//         never touches the accumulator.
	//       • Probe-origin transactions (scripted synthetic monitors) compete
	//         for a small bounded buffer. Admission is a couple of atomics, so
	//         producers never block; excess samples are rejected on the spot.
	//   - A background harvester drains one application at a time, in arrival
	//     order, and the reporter batches the drained samples to the configured
	//     export backend. Both sides of the flow are logged to JSONL files.
	//
	// Why this is useful (what you can measure here):
	//   - Admission behavior under load: how often a hot buffer rejects, and how
	//     fast pending returns to zero once harvests keep up.
	//   - Export cadence: batch sizes and the interval between exports under a
	//     given flush interval and max batch.
	//   - Conservation end to end: on shutdown the tool replays the admission
	//     audit log against the export record log and reports whether everything
	//     admitted was either exported or still pending. Admitted-but-missing
	//     records mean a bug (or an abrupt stop), and the tool exits non-zero.
	//
	// Usage (quick start):
	//   go run ./cmd/collector-sim -qps 20000 -apps 50 -probe_share 0.1 \
	//       -capacity 1024 -harvest 250ms -flush 250ms -duration 30s
	//   - Observe metrics at GET /metrics (Prometheus exposition).
	//   - Optional: POST /sample?app=A&name=N to inject a probe sample manually.
	//   - Logs: admissions in -sample_log, exported records in -record_log.
	//
	// Notable metrics (names):
	//   - sim_txns_total, sim_probe_txns_total, sim_ambient_txns_total
	//   - sim_admitted_total vs sim_rejected_total (admission pressure)
	//   - sim_export_batches_total, sim_export_records_total
	//   - sim_export_batch_records (batch size), sim_export_interval_seconds
	//
	// Pipeline flags
	capacity := flag.Int64("capacity", sampler.DefaultCapacity, "bound on pending samples across all apps")
	harvestEvery := flag.Duration("harvest", 250*time.Millisecond, "harvest sweep interval")
	idleAge := flag.Duration("idle_age", 2*time.Minute, "drop an app from tracking after this long without samples")
	evictionEvery := flag.Duration("eviction", 30*time.Second, "idle-partition scan interval")
	flushEvery := flag.Duration("flush", 250*time.Millisecond, "reporter flush interval")
	maxBatch := flag.Int("max_batch", 256, "max records per export batch")
	partitionCap := flag.Int("partition_cap", 0, "max records one app contributes per batch (0 disables)")
	adapter := flag.String("adapter", "mock", "export backend: mock|redis|kafka|postgres")
	redisAddr := flag.String("redis_addr", "", "redis address (empty uses a logging client)")
	kafkaTopic := flag.String("kafka_topic", "sampler-harvest", "kafka topic")
	postgresDSN := flag.String("postgres_dsn", "", "postgres DSN (required for the postgres adapter)")
	sampleLog := flag.String("sample_log", "samples.log", "admission audit log path (JSONL)")
	recordLog := flag.String("record_log", "records.log", "exported record log path (JSONL)")
	httpAddr := flag.String("http", ":8080", "HTTP listen")

	// Simulation flags
	probeShare := flag.Float64("probe_share", 0.10, "probability a transaction is probe-origin (0..1)")
	apps := flag.Int("apps", 50, "number of distinct applications")
	qps := flag.Int("qps", 20000, "target transactions per second")
	burst := flag.Int("burst", 1000, "burst size for generator")
	duration := flag.Duration("duration", 30*time.Second, "run duration; 0 for forever")
	flag.Parse()

	// Apply sane defaults if flags are explicitly empty/zero and clamp ranges
	if *sampleLog == "" {
		*sampleLog = "samples.log"
	}
	if *recordLog == "" {
		*recordLog = "records.log"
	}
	if *httpAddr == "" {
		*httpAddr = ":8080"
	}
	if *harvestEvery <= 0 {
		*harvestEvery = 250 * time.Millisecond
	}
	if *flushEvery <= 0 {
		*flushEvery = 250 * time.Millisecond
	}
	if *maxBatch <= 0 {
		*maxBatch = 256
	}
	if *partitionCap < 0 {
		*partitionCap = 0
	}
	if *probeShare < 0 {
		*probeShare = 0
	}
	if *probeShare > 1 {
		*probeShare = 1
	}
	if *apps <= 0 {
		*apps = 50
	}
	if *qps <= 0 {
		*qps = 20000
	}
	if *burst <= 0 {
		*burst = 1000
	}
	if *duration < 0 {
		d := time.Duration(0)
		*duration = d
	}

	acc := sampler.New(*capacity)
	registry := core.NewRegistry()

	// Capture the effective knobs so the mock exporter's final summary shows
	// what this run actually used.
	core.SetThresholdInt64("capacity", acc.Capacity())
	core.SetThresholdDuration("harvest", *harvestEvery)
	core.SetThresholdDuration("flush", *flushEvery)
	core.SetThresholdInt64("max_batch", int64(*maxBatch))
	core.SetThresholdFloat64("probe_share", *probeShare)
	core.SetThresholdInt64("apps", int64(*apps))
	core.SetThresholdInt64("qps", int64(*qps))

	// Metrics setup
	reg := prometheus.DefaultRegisterer

	totalTxns := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_txns_total", Help: "Transactions generated"})
	probeTxns := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_probe_txns_total", Help: "Transactions classified probe-origin"})
	ambientTxns := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_ambient_txns_total", Help: "Transactions that bypassed the accumulator"})
	admittedTxns := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_admitted_total", Help: "Probe samples admitted"})
	rejectedTxns := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_rejected_total", Help: "Probe samples rejected at capacity"})
	offerErrs := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_offer_errors_total", Help: "Offers rejected as malformed"})
	exportBatches := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_export_batches_total", Help: "Batches the exporter accepted"})
	exportRecords := prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_export_records_total", Help: "Records the exporter accepted"})
	batchSizes := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "sim_export_batch_records", Help: "Records per accepted export batch", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
	exportInterval := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "sim_export_interval_seconds", Help: "Observed interval between record sink writes", Buckets: prometheus.DefBuckets})
	reg.MustRegister(totalTxns, probeTxns, ambientTxns, admittedTxns, rejectedTxns, offerErrs, exportBatches, exportRecords, batchSizes, exportInterval)

	// Sink + exporter wiring
	sampleSink, err := sinks.NewSampleFileSink(*sampleLog)
	if err != nil {
		log.Fatalf("open sample log: %v", err)
	}
	recordFileSink, err := sinks.NewRecordFileSink(*recordLog)
	if err != nil {
		log.Fatalf("open record log: %v", err)
	}
	msink := &metricRecordSink{inner: recordFileSink, exportHist: exportInterval}

	var db *sql.DB
	if *adapter == "postgres" {
		if *postgresDSN == "" {
			log.Fatalf("postgres adapter requires -postgres_dsn")
		}
		db, err = sql.Open("postgres", *postgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer db.Close()
	}
	baseExporter, err := export.BuildExporter(*adapter, export.DemoOptions{
		RedisAddr:  *redisAddr,
		KafkaTopic: *kafkaTopic,
		PostgresDB: db,
	})
	if err != nil {
		log.Fatalf("build exporter: %v", err)
	}
	exporter := metricExporter{inner: baseExporter, batchCtr: exportBatches, recordCtr: exportRecords, batchSizes: batchSizes}

	ropts := probe.ReporterOptions{
		Buffer:        8192,
		FlushInterval: *flushEvery,
		MaxBatch:      *maxBatch,
		RecordSink:    msink,
		StateFn:       func() (int64, int) { return acc.Pending(), registry.Len() },
	}
	if *partitionCap > 0 {
		ropts.Selector = probe.PrioritySelector{PerPartitionCap: *partitionCap}
	}
	reporter := probe.NewReporter(exporter, ropts)
	reporter.Start()

	harvester := core.NewHarvester(acc, registry, reporter, *harvestEvery, *idleAge, *evictionEvery)
	harvester.Start()

	pipe := probe.NewPipeline(acc, registry, probe.PipelineOptions{Audit: sampleSink})

	// HTTP for metrics and a minimal manual-injection endpoint
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/sample", func(w http.ResponseWriter, r *http.Request) {
		app := r.URL.Query().Get("app")
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "WebTransaction/Go/manual"
		}
		t := &probe.Transaction{
			AppName:    app,
			Name:       name,
			StartedAt:  time.Now(),
			Duration:   time.Millisecond,
			ResourceID: fmt.Sprintf("resource-manual-%d", time.Now().UnixNano()),
		}
		admitted, err := pipe.Offer(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !admitted {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	go func() {
		log.Printf("collector-sim listening on %s", *httpAddr)
		if err := http.ListenAndServe(*httpAddr, nil); err != nil {
			log.Fatalf("http: %v", err)
		}
	}()

	// Generator loop
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	names := []string{
		"WebTransaction/Go/checkout",
		"WebTransaction/Go/search",
		"WebTransaction/Go/login",
		"WebTransaction/Go/cart",
	}
	stop := make(chan struct{})
	genDone := make(chan struct{})
	go func() {
		defer close(genDone)
		interval := time.Second / time.Duration(max(1, *qps))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var seq int64
		burstLeft := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				burstLeft += *burst
				for burstLeft > 0 {
					burstLeft--
					totalTxns.Inc()
					ki := rng.Intn(max(1, *apps))
					t := &probe.Transaction{
						AppName:   fmt.Sprintf("app-%d", ki),
						Name:      names[rng.Intn(len(names))],
						StartedAt: time.Now(),
						Duration:  time.Duration(1+rng.Intn(40)) * time.Millisecond,
						Priority:  rng.Float64(),
					}
					isProbe := rng.Float64() < *probeShare
					if isProbe {
						seq++
						t.ResourceID = fmt.Sprintf("resource-%d", seq)
						t.MonitorID = fmt.Sprintf("monitor-%d", ki)
						t.JobID = fmt.Sprintf("job-%d", seq)
					}
					admitted, err := pipe.Offer(t)
					if err != nil {
						offerErrs.Inc()
						continue
					}
					if !isProbe {
						ambientTxns.Inc()
						continue
					}
					probeTxns.Inc()
					if admitted {
						admittedTxns.Inc()
					} else {
						rejectedTxns.Inc()
					}
				}
			}
		}
	}()

	// Handle termination
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var endTimer <-chan time.Time
	if *duration > 0 {
		endTimer = time.After(*duration)
	}
	select {
	case <-sigCh:
	case <-endTimer:
	}
	close(stop)
	<-genDone

	// Drain in dependency order: the harvester's shutdown sweep empties the
	// accumulator, then the reporter's final flush ships what the sweep
	// produced, then the logs are complete enough to replay.
	harvester.Stop()
	reporter.Stop()
	exporter.PrintFinalSummary()
	if err := sampleSink.Close(); err != nil {
		log.Printf("close sample log: %v", err)
	}
	if err := recordFileSink.Close(); err != nil {
		log.Printf("close record log: %v", err)
	}

	// Replay the logs and check conservation. Every admitted sample must be
	// accounted for: exported, trimmed by an explicit partition cap, or still
	// pending (a sample injected via /sample during shutdown can land behind
	// the final sweep).
	entries, err := sinks.ReadAllSampleLog(*sampleLog)
	if err != nil {
		log.Fatalf("read sample log: %v", err)
	}
	recs, err := sinks.ReadAllRecordLog(*recordLog)
	if err != nil {
		log.Fatalf("read record log: %v", err)
	}
	st := probe.NewState()
	st.ApplyAudit(entries)
	st.ApplyRecords(recs)
	admittedN, exportedN := st.Totals()
	pendingN := acc.Pending()
	verifyErr := st.Verify()
	balanced := admittedN == exportedN+pendingN || *partitionCap > 0
	fmt.Printf("Conservation: admitted=%d exported=%d pending_at_exit=%d ok=%t\n",
		admittedN, exportedN, pendingN, verifyErr == nil && balanced)
	if verifyErr != nil {
		log.Fatalf("replay: %v", verifyErr)
	}
	if !balanced {
		log.Fatalf("replay: %d admitted samples are neither exported nor pending", admittedN-exportedN-pendingN)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
