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
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sampler"
	"sampler/pkg/reservoir"
)

type variantType string

const (
	variantLockfree variantType = "lockfree"
	variantMutex    variantType = "mutex"
	variantChannel  variantType = "channel"
	variantSlice    variantType = "slice"
)

type metrics struct {
	latencies []time.Duration
	longOps   int64 // ops slower than 5x median
}

// benchSample is the unit offered on the hot path. One instance per partition
// is shared across workers; only the key is ever read.
type benchSample struct{ key string }

func (s *benchSample) PartitionKey() string { return s.key }

// ---- Accumulator variants implement the same interface ----

type accumulator interface {
	offer(s sampler.Sample) bool // hot-path admission (measured)
	harvest(partition string) int
	pending() int64
	lost() int64
}

// ---- Lock-free variant (the production accumulator) ----

type lockfreeAcc struct{ a *sampler.Accumulator }

func newLockfree(capacity int64) *lockfreeAcc { return &lockfreeAcc{a: sampler.New(capacity)} }

func (l *lockfreeAcc) offer(s sampler.Sample) bool { return l.a.Offer(s) }
func (l *lockfreeAcc) harvest(p string) int        { return len(l.a.Harvest(p)) }
func (l *lockfreeAcc) pending() int64              { return l.a.Pending() }
func (l *lockfreeAcc) lost() int64                 { return 0 }

// ---- Mutex variant (exact occupancy, serialized) ----

type mutexAcc struct{ r *reservoir.Reservoir }

func newMutex(capacity int64) *mutexAcc { return &mutexAcc{r: reservoir.New(capacity)} }

func (m *mutexAcc) offer(s sampler.Sample) bool { return m.r.Offer(s) }
func (m *mutexAcc) harvest(p string) int        { return len(m.r.Harvest(p)) }
func (m *mutexAcc) pending() int64              { return m.r.Pending() }
func (m *mutexAcc) lost() int64                 { return 0 }

// ---- Channel variant (buffered chan, drain-and-resend harvest) ----

type chanAcc struct {
	ch      chan sampler.Sample
	dropped atomic.Int64
}

func newChan(capacity int64) *chanAcc { return &chanAcc{ch: make(chan sampler.Sample, capacity)} }

func (c *chanAcc) offer(s sampler.Sample) bool {
	select {
	case c.ch <- s:
		return true
	default:
		return false
	}
}

// harvest drains the buffered samples and re-sends survivors. A producer can
// fill a freed slot before the re-send lands; the survivor is then counted as
// lost. That gap is the reason this variant is a baseline, not a candidate.
func (c *chanAcc) harvest(partition string) int {
	matched := 0
	for n := len(c.ch); n > 0; n-- {
		select {
		case s := <-c.ch:
			if s.PartitionKey() == partition {
				matched++
				continue
			}
			select {
			case c.ch <- s:
			default:
				c.dropped.Add(1)
			}
		default:
			return matched
		}
	}
	return matched
}

func (c *chanAcc) pending() int64 { return int64(len(c.ch)) }
func (c *chanAcc) lost() int64    { return c.dropped.Load() }

// ---- Slice variant (single mutex around an append/filter slice) ----

type sliceAcc struct {
	mu       sync.Mutex
	capacity int
	items    []sampler.Sample
}

func newSlice(capacity int64) *sliceAcc { return &sliceAcc{capacity: int(capacity)} }

func (s *sliceAcc) offer(smp sampler.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.capacity {
		return false
	}
	s.items = append(s.items, smp)
	return true
}

func (s *sliceAcc) harvest(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := 0
	kept := s.items[:0]
	for _, smp := range s.items {
		if smp.PartitionKey() == partition {
			matched++
		} else {
			kept = append(kept, smp)
		}
	}
	s.items = kept
	return matched
}

func (s *sliceAcc) pending() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.items))
}

func (s *sliceAcc) lost() int64 { return 0 }

// ---- Drainer (the single background harvester) ----

type drainer struct {
	acc         accumulator
	keys        []string
	interval    time.Duration
	exportDelay time.Duration

	cycles    atomic.Int64
	batches   atomic.Int64
	harvested atomic.Int64
	maxBatch  atomic.Int64

	stopC chan struct{}
	wg    sync.WaitGroup
}

func newDrainer(acc accumulator, keys []string, interval, exportDelay time.Duration) *drainer {
	return &drainer{acc: acc, keys: keys, interval: interval, exportDelay: exportDelay, stopC: make(chan struct{})}
}

func (d *drainer) start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		t := time.NewTicker(d.interval)
		defer t.Stop()
		for {
			select {
			case <-d.stopC:
				// final sweep so conservation can be checked against an
				// empty accumulator
				d.sweep()
				return
			case <-t.C:
				d.sweep()
			}
		}
	}()
}

func (d *drainer) sweep() {
	d.cycles.Add(1)
	for _, k := range d.keys {
		n := int64(d.acc.harvest(k))
		if n == 0 {
			continue
		}
		d.batches.Add(1)
		d.harvested.Add(n)
		for {
			old := d.maxBatch.Load()
			if n <= old || d.maxBatch.CompareAndSwap(old, n) {
				break
			}
		}
		if d.exportDelay > 0 {
			time.Sleep(d.exportDelay)
		}
	}
}

func (d *drainer) stop() {
	close(d.stopC)
	d.wg.Wait()
}

// ---- Runner ----

func main() {
	var (
		variantStr = flag.String("variant", "lockfree", "lockfree|mutex|channel|slice")
		opCount    = flag.Int("ops", 200_000, "total operations across all goroutines")
		workers    = flag.Int("goroutines", 32, "concurrent workers")
		partsN     = flag.Int("partitions", 16, "number of partition keys")
		capacity   = flag.Int64("capacity", 1024, "accumulator capacity")
		skew       = flag.Float64("skew", 1.2, "Zipf exponent for partition choice; <=1 selects uniform")
		seed       = flag.Uint64("seed", 1, "PRNG seed")

		// Drainer
		harvestInterval = flag.Duration("harvest_interval", 5*time.Millisecond, "drainer sweep interval")
		exportDelay     = flag.Duration("export_delay", 0, "simulated delay per harvested batch (e.g., 50us, 1ms)")

		// Harness
		pprofOn       = flag.Bool("pprof", false, "enable pprof on localhost:6060")
		sampleEvery   = flag.Int("sample_every", 1, "record latency every N ops (1=all)")
		maxLatSamples = flag.Int("max_latency_samples", 200000, "cap on stored latency samples to bound memory; downsample if exceeded")
		duration      = flag.Duration("duration", 0, "run for this duration instead of a fixed -ops (0 to disable)")
	)
	flag.Parse()

	if *pprofOn {
		go func() { _ = http.ListenAndServe("localhost:6060", nil) }()
	}

	v := variantType(strings.ToLower(*variantStr))
	if v != variantLockfree && v != variantMutex && v != variantChannel && v != variantSlice {
		fmt.Println("-variant must be one of: lockfree|mutex|channel|slice")
		os.Exit(2)
	}

	keys := make([]string, *partsN)
	samples := make([]sampler.Sample, *partsN)
	for i := 0; i < *partsN; i++ {
		keys[i] = fmt.Sprintf("app-%d", i)
		samples[i] = &benchSample{key: keys[i]}
	}

	var prod accumulator
	switch v {
	case variantLockfree:
		prod = newLockfree(*capacity)
	case variantMutex:
		prod = newMutex(*capacity)
	case variantChannel:
		prod = newChan(*capacity)
	case variantSlice:
		prod = newSlice(*capacity)
	}

	d := newDrainer(prod, keys, *harvestInterval, *exportDelay)
	d.start()

	// Pre-generate partition choices to avoid per-op RNG and allocations
	m := &metrics{latencies: make([]time.Duration, 0, *opCount)}
	opsPerWorker := *opCount / *workers
	if *duration > 0 {
		// For duration-based runs, pre-generate a small fixed slice and cycle over it
		opsPerWorker = 8192
	}
	opsIdx := make([][]int, *workers)
	for g := 0; g < *workers; g++ {
		rnd := rand.New(rand.NewPCG(*seed, uint64(g)+1))
		var zipf *rand.Zipf
		if *skew > 1 && *partsN > 1 {
			zipf = rand.NewZipf(rnd, *skew, 1, uint64(*partsN-1))
		}
		idxs := make([]int, opsPerWorker)
		for i := 0; i < opsPerWorker; i++ {
			if zipf != nil {
				idxs[i] = int(zipf.Uint64())
			} else {
				idxs[i] = rnd.IntN(*partsN)
			}
		}
		opsIdx[g] = idxs
	}

	// Run workers
	var wg sync.WaitGroup
	wg.Add(*workers)
	start := time.Now()
	// Duration-based mode if -duration > 0
	durationMode := *duration > 0
	deadline := time.Time{}
	if durationMode {
		deadline = start.Add(*duration)
	}
	var opsDone, admitted, rejected atomic.Int64

	recordLatency := *maxLatSamples != 0

	latSlices := make([][]time.Duration, *workers)
	// Cap per-worker latency storage in duration mode using reservoir sampling
	capPerWorker := 0
	if recordLatency && *maxLatSamples > 0 {
		capPerWorker = *maxLatSamples / *workers
		if capPerWorker < 1 {
			capPerWorker = 1
		}
	}
	for g := 0; g < *workers; g++ {
		go func(id int) {
			defer wg.Done()
			idxs := opsIdx[id]
			// preallocate sampled latencies for this worker if recording is enabled
			sample := *sampleEvery
			if sample <= 0 {
				sample = 1
			}
			var loc []time.Duration
			if recordLatency {
				if durationMode && capPerWorker > 0 {
					loc = make([]time.Duration, 0, capPerWorker)
				} else {
					loc = make([]time.Duration, 0, (len(idxs)+sample-1)/sample)
				}
			}
			// rng for reservoir sampling
			var rndLoc *rand.Rand
			if durationMode && recordLatency && capPerWorker > 0 {
				rndLoc = rand.New(rand.NewPCG(*seed, uint64(id)+12345))
			}
			totalSeen := 0
			if durationMode {
				// Run until deadline; cycle over pre-generated choices to avoid allocs
				for i := 0; ; i++ {
					if time.Now().After(deadline) {
						break
					}
					s := samples[idxs[i%len(idxs)]]
					var ok bool
					if recordLatency && (sample == 1 || (i%sample) == 0) {
						t0 := time.Now()
						ok = prod.offer(s)
						dlat := time.Since(t0)
						if capPerWorker > 0 {
							totalSeen++
							if totalSeen <= capPerWorker {
								loc = append(loc, dlat)
							} else {
								j := rndLoc.IntN(totalSeen)
								if j < capPerWorker {
									loc[j] = dlat
								}
							}
						} else {
							loc = append(loc, dlat)
						}
					} else {
						ok = prod.offer(s)
					}
					if ok {
						admitted.Add(1)
					} else {
						rejected.Add(1)
					}
					opsDone.Add(1)
				}
			} else {
				for i := 0; i < len(idxs); i++ {
					s := samples[idxs[i]]
					var ok bool
					if recordLatency && (sample == 1 || (i%sample) == 0) {
						t0 := time.Now()
						ok = prod.offer(s)
						loc = append(loc, time.Since(t0))
					} else {
						ok = prod.offer(s)
					}
					if ok {
						admitted.Add(1)
					} else {
						rejected.Add(1)
					}
					opsDone.Add(1)
				}
			}
			latSlices[id] = loc
		}(g)
	}
	wg.Wait()
	runDur := time.Since(start)

	// Stop the drainer; its shutdown path runs the final sweep.
	d.stop()

	// Merge sampled latencies
	for i, ls := range latSlices {
		m.latencies = append(m.latencies, ls...)
		latSlices[i] = nil // free per-worker slice
	}
	// Downsample if exceeding cap to bound memory
	if *maxLatSamples > 0 && len(m.latencies) > *maxLatSamples {
		capN := *maxLatSamples
		reduced := make([]time.Duration, capN)
		step := float64(len(m.latencies)) / float64(capN)
		for j := 0; j < capN; j++ {
			idx := int(float64(j) * step)
			if idx >= len(m.latencies) {
				idx = len(m.latencies) - 1
			}
			reduced[j] = m.latencies[idx]
		}
		m.latencies = reduced
	}
	// Free pre-generated choices to reduce live memory footprint before stats
	opsIdx = nil

	// stats
	// Sort latencies once to compute quantiles without extra allocations
	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
	idx50 := (len(m.latencies) - 1) * 50 / 100
	idx95 := (len(m.latencies) - 1) * 95 / 100
	idx99 := (len(m.latencies) - 1) * 99 / 100
	p50 := time.Duration(0)
	p95 := time.Duration(0)
	p99 := time.Duration(0)
	if len(m.latencies) > 0 {
		p50 = m.latencies[idx50]
		p95 = m.latencies[idx95]
		p99 = m.latencies[idx99]
	}
	med := p50
	thr := 5 * med
	for _, dlat := range m.latencies {
		if dlat > thr {
			m.longOps++
		}
	}
	// build latency histogram (ns/us/ms buckets)
	hist := buildLatencyHistogram(m.latencies)

	// Release latency samples before taking memory snapshot to reduce live Alloc
	m.latencies = nil
	// Encourage a GC so snapshot reflects released buffers
	runtime.GC()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	actualOps := opsDone.Load()
	admittedN := admitted.Load()
	rejectedN := rejected.Load()
	harvestedN := d.harvested.Load()
	pendingEnd := prod.pending()
	lostN := prod.lost()
	conserved := admittedN == harvestedN+pendingEnd+lostN

	fmt.Printf("Variant: %s  Ops: %d  Goroutines: %d  Partitions: %d  Capacity: %d  Skew: %g\n",
		v, actualOps, *workers, *partsN, *capacity, *skew)
	fmt.Printf("Duration: %s  Ops/sec: %s\n", runDur.Round(time.Millisecond), humanRate(float64(actualOps)/runDur.Seconds()))
	fmt.Printf("Admission: admitted=%s (%.1f%%), rejected=%s (%.1f%%)\n",
		humanInt(admittedN), pct(admittedN, actualOps), humanInt(rejectedN), pct(rejectedN, actualOps))
	// Print latencies with adaptive precision to avoid clamped zeros
	fmt.Printf("Latency p50: %sµs  p95: %sµs  p99: %sµs\n", formatMicros(med), formatMicros(p95), formatMicros(p99))
	fmt.Println("Latency histogram (non-zero buckets):")
	for _, b := range hist {
		fmt.Printf("  %s: %d\n", b.label, b.count)
	}
	fmt.Printf("Harvests: cycles=%d batches=%d samples=%s maxBatch=%d\n",
		d.cycles.Load(), d.batches.Load(), humanInt(harvestedN), d.maxBatch.Load())
	fmt.Printf("Conservation: admitted=%d harvested=%d pending=%d lost=%d ok=%t\n",
		admittedN, harvestedN, pendingEnd, lostN, conserved)
	fmt.Printf("Memory: Alloc=%s  TotalAlloc=%s  Sys=%s  NumGC=%d\n",
		humanBytes(ms.Alloc), humanBytes(ms.TotalAlloc), humanBytes(ms.Sys), ms.NumGC)
	fmt.Printf("Contention (long ops >5× median): %d\n", m.longOps)

	// Machine-readable one-line summary for scripts
	fmt.Printf("Summary: variant=%s ops=%d duration_ns=%d goroutines=%d partitions=%d capacity=%d skew=%g p50_ns=%d p95_ns=%d p99_ns=%d admitted=%d rejected=%d harvested=%d pending=%d lost=%d\n",
		v, actualOps, runDur.Nanoseconds(), *workers, *partsN, *capacity, *skew,
		int64(med), int64(p95), int64(p99), admittedN, rejectedN, harvestedN, pendingEnd, lostN)
}

// ---- Helpers ----

type histBucket struct {
	label  string
	lo, hi time.Duration
	count  int64
}

func buildLatencyHistogram(durations []time.Duration) []histBucket {
	b := []histBucket{
		{"<100ns", 0, 100 * time.Nanosecond, 0},
		{"100–200ns", 100 * time.Nanosecond, 200 * time.Nanosecond, 0},
		{"200–500ns", 200 * time.Nanosecond, 500 * time.Nanosecond, 0},
		{"0.5–1µs", 500 * time.Nanosecond, 1 * time.Microsecond, 0},
		{"1–2µs", 1 * time.Microsecond, 2 * time.Microsecond, 0},
		{"2–5µs", 2 * time.Microsecond, 5 * time.Microsecond, 0},
		{"5–10µs", 5 * time.Microsecond, 10 * time.Microsecond, 0},
		{"10–20µs", 10 * time.Microsecond, 20 * time.Microsecond, 0},
		{"20–50µs", 20 * time.Microsecond, 50 * time.Microsecond, 0},
		{"50–100µs", 50 * time.Microsecond, 100 * time.Microsecond, 0},
		{"0.1–0.2ms", 100 * time.Microsecond, 200 * time.Microsecond, 0},
		{"0.2–0.5ms", 200 * time.Microsecond, 500 * time.Microsecond, 0},
		{"0.5–1ms", 500 * time.Microsecond, 1 * time.Millisecond, 0},
		{"1–2ms", 1 * time.Millisecond, 2 * time.Millisecond, 0},
		{"2–5ms", 2 * time.Millisecond, 5 * time.Millisecond, 0},
		{"5–10ms", 5 * time.Millisecond, 10 * time.Millisecond, 0},
		{">=10ms", 10 * time.Millisecond, time.Duration(1<<63 - 1), 0},
	}
	for _, d := range durations {
		for i := range b {
			if d >= b[i].lo && d < b[i].hi {
				b[i].count++
				break
			}
		}
	}
	// Return only non-zero buckets
	out := make([]histBucket, 0, len(b))
	for _, x := range b {
		if x.count > 0 {
			out = append(out, x)
		}
	}
	return out
}

// formatMicros returns a string with microseconds value using adaptive precision
// to avoid clamped zeros for sub-microsecond durations.
func formatMicros(d time.Duration) string {
	us := float64(d) / 1e3 // d is ns
	if us < 1 {
		return fmt.Sprintf("%.3f", us)
	}
	if us < 100 {
		return fmt.Sprintf("%.1f", us)
	}
	return fmt.Sprintf("%.0f", us)
}

func pct(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}

func humanInt(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := ""
	if strings.HasPrefix(s, "-") {
		neg = "-"
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i != 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return neg + string(out)
}

func humanRate(x float64) string {
	if x >= 1_000_000 {
		return fmt.Sprintf("%.1fM", x/1_000_000)
	}
	if x >= 1_000 {
		return fmt.Sprintf("%.1fk", x/1_000)
	}
	return fmt.Sprintf("%.0f", x)
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	d := float64(b)
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	i := 0
	for d >= unit && i < len(units)-1 {
		d /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", d, units[i])
}
