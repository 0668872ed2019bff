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

// Package core provides the collector-side orchestration around the sample
// accumulator. This file implements the harvest scheduler: the one goroutine
// in the process allowed to call Accumulator.Harvest. The accumulator requires
// that at most one drain is in flight at a time; routing every harvest through
// this goroutine makes that hold by construction instead of by convention.
package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"sampler"
	"sampler/internal/collector/telemetry/flow"
)

// HarvestSink consumes the samples removed by a drain. Implementations must be
// non-blocking or bounded in latency; a slow sink delays the next cycle.
type HarvestSink interface {
	OnHarvest(partition string, samples []sampler.Sample)
}

// harvestRequest carries an on-demand drain from HarvestNow onto the scheduler
// goroutine. reply receives the number of samples removed.
type harvestRequest struct {
	partition string
	reply     chan int
}

// Harvester periodically drains the accumulator, one tracked partition at a
// time, and hands the removed samples to a sink. It also evicts partitions
// that have not seen an admission for a configured age.
type Harvester struct {
	acc              *sampler.Accumulator
	registry         *Registry
	sink             HarvestSink
	harvestInterval  time.Duration
	idleAge          time.Duration
	evictionInterval time.Duration
	requestCh        chan harvestRequest
	stopChan         chan struct{}
	doneCh           chan struct{}
	started          uint32
	stopped          uint32
}

// NewHarvester creates and configures a harvest scheduler.
//
// harvestInterval: how often every tracked partition is drained.
// idleAge: a partition with no admission for this long is dropped from the
// registry after one final drain. evictionInterval: how often idleness is
// checked. Non-positive values fall back to defaults suitable for the demo
// binaries (10s cycle, 5m idle age, 1m eviction sweep).
func NewHarvester(acc *sampler.Accumulator, registry *Registry, sink HarvestSink, harvestInterval, idleAge, evictionInterval time.Duration) *Harvester {
	if harvestInterval <= 0 {
		harvestInterval = 10 * time.Second
	}
	if idleAge <= 0 {
		idleAge = 5 * time.Minute
	}
	if evictionInterval <= 0 {
		evictionInterval = time.Minute
	}
	return &Harvester{
		acc:              acc,
		registry:         registry,
		sink:             sink,
		harvestInterval:  harvestInterval,
		idleAge:          idleAge,
		evictionInterval: evictionInterval,
		requestCh:        make(chan harvestRequest),
		stopChan:         make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start launches the scheduler goroutine. Subsequent calls are no-ops.
func (h *Harvester) Start() {
	if !atomic.CompareAndSwapUint32(&h.started, 0, 1) {
		return
	}
	fmt.Println("Starting harvest scheduler...")
	go h.run()
}

// Stop gracefully stops the scheduler. It runs one final cycle over every
// tracked partition so sub-interval remainders still reach the sink, then
// waits for the goroutine to exit.
func (h *Harvester) Stop() {
	if atomic.LoadUint32(&h.started) == 0 {
		return
	}
	if !atomic.CompareAndSwapUint32(&h.stopped, 0, 1) {
		return
	}
	fmt.Println("Stopping harvest scheduler...")
	close(h.stopChan)
	<-h.doneCh
}

// HarvestNow requests an immediate drain of one partition and returns the
// number of samples removed. The drain itself still runs on the scheduler
// goroutine; this call only blocks until that goroutine has performed it.
// Returns 0 when the partition is empty, the scheduler is stopped, or it was
// never started.
func (h *Harvester) HarvestNow(partition string) int {
	if partition == "" || atomic.LoadUint32(&h.started) == 0 {
		return 0
	}
	req := harvestRequest{partition: partition, reply: make(chan int, 1)}
	select {
	case h.requestCh <- req:
		return <-req.reply
	case <-h.stopChan:
		return 0
	}
}

func (h *Harvester) run() {
	defer close(h.doneCh)
	harvestTicker := time.NewTicker(h.harvestInterval)
	defer harvestTicker.Stop()
	evictionTicker := time.NewTicker(h.evictionInterval)
	defer evictionTicker.Stop()

	for {
		select {
		case <-harvestTicker.C:
			h.runHarvestCycle()
		case req := <-h.requestCh:
			req.reply <- h.harvestOne(req.partition)
		case <-evictionTicker.C:
			h.runEvictionCycle()
		case <-h.stopChan:
			// Serve any HarvestNow callers that won the race with Stop,
			// then run the final cycle.
			for {
				select {
				case req := <-h.requestCh:
					req.reply <- h.harvestOne(req.partition)
				default:
					h.runHarvestCycle()
					return
				}
			}
		}
	}
}

// runHarvestCycle drains every tracked partition once.
func (h *Harvester) runHarvestCycle() {
	for _, partition := range h.registry.Partitions() {
		h.harvestOne(partition)
	}
}

// harvestOne performs a single drain and forwards the result to the sink.
// Only ever called from the scheduler goroutine.
func (h *Harvester) harvestOne(partition string) int {
	start := time.Now()
	samples := h.acc.Harvest(partition)
	if len(samples) == 0 {
		return 0
	}
	RecordHarvested(int64(len(samples)))
	flow.ObserveHarvest(partition, len(samples), time.Since(start))
	// Whatever is still pending after the drain was either re-appended by it
	// or arrived behind the marker; both stay for a later cycle.
	pending := h.acc.Pending()
	RecordRetained(pending)
	flow.ObserveRetained(pending)
	if h.sink != nil {
		h.sink.OnHarvest(partition, samples)
	}
	return len(samples)
}

// runEvictionCycle drops partitions that have been idle past the configured
// age, draining each one final time so no sample is orphaned in the queue.
func (h *Harvester) runEvictionCycle() {
	var idle []string
	now := time.Now()

	h.registry.ForEach(func(partition string, e *trackedPartition) {
		last := atomic.LoadInt64(&e.lastSeen)
		if now.Sub(time.Unix(0, last)) > h.idleAge {
			idle = append(idle, partition)
		}
	})

	if len(idle) == 0 {
		return
	}

	fmt.Printf("Evicting %d idle partitions...\n", len(idle))
	for _, partition := range idle {
		// Re-check freshness; an admission may have landed since the scan.
		if actual, ok := h.registry.partitions.Load(partition); ok {
			entry := actual.(*trackedPartition)
			last := atomic.LoadInt64(&entry.lastSeen)
			if time.Since(time.Unix(0, last)) <= h.idleAge {
				// Touched recently; skip eviction.
				continue
			}
			if n := h.harvestOne(partition); n > 0 {
				fmt.Printf("  - Final drain for %s, samples: %d\n", partition, n)
			}
			h.registry.Delete(partition)
		}
	}
}
