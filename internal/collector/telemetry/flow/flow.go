// Package flow provides opt-in, low-overhead telemetry for the sample
// collector: admission and drop counters, harvest KPIs, and a periodic
// windowed snapshot of the partitions losing the most samples. It is designed
// to be safe to call from hot paths: when disabled, all public functions are
// no-ops.
package flow

import (
	"hash/fnv"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the behavior of the flow module.
//
// Notes:
//   - SampleRate is deterministic per partition using a fast FNV-1a 64-bit hash
//     to avoid RNG cost. It only affects the per-partition aggregation; the
//     global counters always count every event.
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server that serves
//     /metrics. If you already expose Prometheus elsewhere, leave it empty.
//   - LogInterval and TopN drive the snapshot printer (see snapshot.go).
//     LogInterval == 0 disables the loop.
//   - KeyHashLen controls how many hex characters to log for anonymized
//     partition hashes (2..16 typical).
type Config struct {
	Enabled     bool
	SampleRate  float64       // 0.0..1.0, probability a given partition is aggregated (deterministic)
	MetricsAddr string        // e.g., ":9100". Empty to disable standalone metrics endpoint
	LogInterval time.Duration // e.g., 30*time.Second; 0 disables snapshot logging
	Window      time.Duration // KPI window to compute ratios over; defaults to 1m if 0
	TopN        int           // how many top-drop partitions to include in logs
	KeyHashLen  int           // number of hex chars to print for partition hashes in logs
}

var (
	modEnabled atomic.Bool

	// samplingThreshold is a fixed cut in the 64-bit hash space representing SampleRate.
	samplingThreshold atomic.Uint64

	// Prometheus metrics — global only (no unbounded label cardinality).
	offersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_offers_total",
		Help: "Total samples offered to the accumulator",
	})
	admitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_admits_total",
		Help: "Total samples admitted (enqueued) by the accumulator",
	})
	dropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_drops_total",
		Help: "Total samples rejected because the pending set was at capacity",
	})
	harvestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_harvested_records_total",
		Help: "Total samples drained across all harvest cycles",
	})
	retainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_retained_total",
		Help: "Samples observed still pending immediately after a drain (other partitions plus late arrivals)",
	})
	exportErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sampler_export_errors_total",
		Help: "Total number of export batch errors (failed delivery attempts)",
	})
	// Point-in-time gauges fed by the reporter.
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sampler_pending",
		Help: "Samples currently pending in the accumulator",
	})
	partitionsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sampler_partitions_tracked",
		Help: "Partitions currently tracked by the registry",
	})
	// First-class KPI (Gauge) over a rolling window
	dropRatioGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sampler_drop_ratio",
		Help: "Fraction of offers rejected (drops/offers) over the KPI window",
	})
	harvestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampler_harvest_duration_seconds",
		Help:    "Duration of individual partition harvests",
		Buckets: prometheus.DefBuckets,
	})
	exportBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampler_export_batch_size",
		Help:    "Distribution of records per export batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})
)

func init() {
	// Register metrics eagerly. If no Prometheus endpoint is exposed, the registration is harmless.
	prometheus.MustRegister(offersTotal, admitsTotal, dropsTotal, harvestedTotal, retainedTotal,
		exportErrorsTotal, pendingGauge, partitionsTracked, dropRatioGauge, harvestDuration, exportBatchSize)
}

// Enable configures the module. Safe to call multiple times; subsequent calls replace config.
func Enable(cfg Config) {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.KeyHashLen <= 0 {
		cfg.KeyHashLen = 8
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	// Compute deterministic sampling threshold once (inclusive bound in [0, 2^64-1]).
	// Handle edge cases explicitly to avoid float rounding gaps at SampleRate=1.0.
	var thr uint64
	switch {
	case cfg.SampleRate <= 0:
		thr = 0 // sample none
	case cfg.SampleRate >= 1:
		thr = ^uint64(0) // sample all partitions
	default:
		max := ^uint64(0)
		// We want an inclusive threshold such that (thr+1)/(max+1) ≈ SampleRate
		f := cfg.SampleRate * (float64(max) + 1.0)
		if f < 1 { // ensure at least one slot if rate rounds down
			f = 1
		}
		u := uint64(f) - 1
		thr = u
	}
	samplingThreshold.Store(thr)

	modEnabled.Store(cfg.Enabled)

	// Start/stop snapshot loop according to config.
	startOrUpdateSnapshots(cfg)

	// Optionally start a tiny HTTP server just for /metrics.
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether the flow module is active.
func Enabled() bool { return modEnabled.Load() }

// ObserveOffer records an offer outcome. Call on hot path after deciding admit/drop.
//
// Admits and drops feed the global counters unconditionally; the per-partition
// aggregation (top-N drops in the snapshot) only sees sampled partitions.
func ObserveOffer(partition string, admitted bool) {
	if !modEnabled.Load() {
		return
	}
	offersTotal.Inc()
	offeredAll.Add(1)
	if admitted {
		admitsTotal.Inc()
		admittedAll.Add(1)
		if partition != "" && sampled(partition) {
			aggRecordOffer(hashPartition(partition))
		}
	} else {
		dropsTotal.Inc()
		droppedAll.Add(1)
		if partition != "" && sampled(partition) {
			aggRecordDrop(hashPartition(partition))
		}
	}
}

// ObserveHarvest records one partition drain: how many samples were removed
// and how long the drain took.
func ObserveHarvest(partition string, drained int, dur time.Duration) {
	if !modEnabled.Load() || drained <= 0 {
		return
	}
	harvestedTotal.Add(float64(drained))
	harvestedAll.Add(int64(drained))
	harvestDuration.Observe(dur.Seconds())
	if partition != "" && sampled(partition) {
		aggRecordHarvest(hashPartition(partition), int64(drained))
	}
}

// ObserveRetained records the pending count observed right after a drain.
func ObserveRetained(n int64) {
	if !modEnabled.Load() || n <= 0 {
		return
	}
	retainedTotal.Add(float64(n))
	retainedAll.Add(n)
}

// ObserveBatch should be called once per successful export batch with its size.
func ObserveBatch(size int) {
	if !modEnabled.Load() || size <= 0 {
		return
	}
	exportBatchSize.Observe(float64(size))
}

// ObserveExportError increments the export error counter when a batch fails.
func ObserveExportError(n int) {
	if !modEnabled.Load() || n <= 0 {
		return
	}
	exportErrorsTotal.Add(float64(n))
}

// ObserveState sets the point-in-time gauges. Callers typically publish the
// accumulator's pending count and the registry size after each flush.
func ObserveState(pending int64, partitions int) {
	if !modEnabled.Load() {
		return
	}
	pendingGauge.Set(float64(pending))
	partitionsTracked.Set(float64(partitions))
}

// startMetricsEndpoint exposes /metrics on the given addr in a background goroutine.
// Safe to call multiple times; only one server per unique addr will be started (best-effort).
func startMetricsEndpoint(addr string) {
	// To keep it simple and dependency-free, we do not deduplicate addr strictly.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// sampled deterministically decides whether a partition participates given SampleRate.
func sampled(partition string) bool {
	thr := samplingThreshold.Load()
	if thr == 0 {
		return false
	}
	h := hashPartition(partition)
	return h <= thr
}

// hashPartition returns a 64-bit FNV-1a hash of the partition key.
func hashPartition(partition string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(partition))
	return h.Sum64()
}
