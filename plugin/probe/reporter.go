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

package probe

import (
	"fmt"
	"sync"
	"time"

	"sampler"
	"sampler/internal/collector/core"
	"sampler/internal/collector/telemetry/flow"
)

// RecordSink consumes successfully exported records for durability or replay
// verification. Implementations must be non-blocking or bounded in latency;
// a slow sink stretches the flush cycle and backpressure reaches the harvest
// scheduler.
type RecordSink interface {
	OnRecords([]core.Record)
}

// ReporterOptions configure the export reporter.
type ReporterOptions struct {
	// Buffer is the bounded capacity of the ingress channel. Default 1024.
	Buffer int
	// FlushInterval is the periodic flush cadence, bounding how long a
	// harvested record sits queued before an export attempt. Default 500ms.
	FlushInterval time.Duration
	// MaxBatch caps the records handed to a single ExportBatch call. Default 256.
	MaxBatch int
	// Selector orders and trims each flush before export. Nil exports records
	// in arrival order without trimming.
	Selector RecordSelector
	// RecordSink, when set, receives every batch the exporter accepted.
	RecordSink RecordSink
	// StateFn, when set, is polled once per flush and published to the state
	// gauges. Polling here keeps O(n) registry walks off the admission path.
	StateFn func() (pending int64, partitions int)
}

// harvestBatch is the ingress unit: one partition drain, already converted.
type harvestBatch struct {
	partition string
	records   []core.Record
}

// Reporter is a single-worker service that receives harvested batches, queues
// them per partition, and periodically flushes them through the selector into
// an exporter. A batch the exporter rejects goes back into its lanes and is
// retried on the next cycle, so a downstream outage delays delivery instead
// of losing records.
//
// It implements core.HarvestSink and is normally handed straight to the
// harvest scheduler.
type Reporter struct {
	exporter   core.Exporter
	lanes      *laneRouter
	in         chan harvestBatch
	stopCh     chan struct{}
	doneCh     chan struct{}
	opts       ReporterOptions
	startOnce  sync.Once
	stopOnce   sync.Once
	// flushNowCh allows external callers to request an immediate flush on the reporter goroutine
	flushNowCh chan struct{}
}

// NewReporter constructs a reporter over an exporter. The lane router is
// exclusive to the reporter goroutine; callers only interact through
// OnHarvest and Flush.
func NewReporter(exporter core.Exporter, opts ReporterOptions) *Reporter {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 256
	}
	return &Reporter{
		exporter:   exporter,
		lanes:      newLaneRouter(),
		in:         make(chan harvestBatch, opts.Buffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		opts:       opts,
		flushNowCh: make(chan struct{}, 1),
	}
}

// Start launches the background worker.
func (r *Reporter) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop asks the worker to stop, performs a final flush, and waits for
// completion. Stop must only be called after Start; repeated calls are no-ops.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

// Flush requests an immediate best-effort flush on the reporter goroutine.
// It is non-blocking: if a prior flush request is still pending, this call is
// a no-op. Use it before reading durability logs to reduce staleness.
func (r *Reporter) Flush() {
	select {
	case r.flushNowCh <- struct{}{}:
		// enqueued
	default:
		// a previous flush request is still pending; skip to avoid blocking
	}
}

// OnHarvest implements core.HarvestSink. Conversion to records happens here,
// on the harvest scheduler's goroutine, while the reporter still has sole
// ownership of the drained samples. The enqueue tries a non-blocking send
// first; a full buffer falls back to blocking, so the scheduler's next cycle
// is delayed rather than records lost.
func (r *Reporter) OnHarvest(partition string, samples []sampler.Sample) {
	if len(samples) == 0 {
		return
	}
	harvestedAt := Now()
	records := make([]core.Record, 0, len(samples))
	for _, s := range samples {
		t, ok := s.(*Transaction)
		if !ok {
			continue
		}
		records = append(records, t.ExportRecord(harvestedAt))
	}
	if len(records) == 0 {
		return
	}
	b := harvestBatch{partition: partition, records: records}
	if !r.tryPublish(b) {
		r.publish(b)
	}
}

// publish enqueues a batch, blocking if the buffer is full. Must not be called
// after Stop.
func (r *Reporter) publish(b harvestBatch) {
	r.in <- b
}

// tryPublish attempts to enqueue without blocking. Returns false if the buffer
// is full.
func (r *Reporter) tryPublish(b harvestBatch) bool {
	select {
	case r.in <- b:
		return true
	default:
		return false
	}
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case b := <-r.in:
			r.lanes.route(b.partition).enqueue(b.records)
		case <-ticker.C:
			r.flush()
		case <-r.flushNowCh:
			// Best-effort immediate flush requested by caller
			r.flush()
		case <-r.stopCh:
			// Drain remaining queued batches without blocking, then run the
			// final flush so sub-interval remainders still reach the exporter.
			for {
				select {
				case b := <-r.in:
					r.lanes.route(b.partition).enqueue(b.records)
				default:
					r.flush()
					return
				}
			}
		}
	}
}

// flush drains every lane, runs the selector, and exports in MaxBatch chunks.
// On the first export error the unsent remainder is requeued in selection
// order and the flush ends; later cycles retry. Only ever called from the
// reporter goroutine.
func (r *Reporter) flush() {
	records := r.lanes.drainAll()
	if len(records) > 0 {
		if r.opts.Selector != nil {
			records = r.opts.Selector.Select(records)
		}
		for start := 0; start < len(records); start += r.opts.MaxBatch {
			end := start + r.opts.MaxBatch
			if end > len(records) {
				end = len(records)
			}
			chunk := records[start:end]
			if err := r.exporter.ExportBatch(chunk); err != nil {
				fmt.Printf("Export failed, requeueing %d records: %v\n", len(records)-start, err)
				flow.ObserveExportError(1)
				r.lanes.requeue(records[start:])
				break
			}
			flow.ObserveBatch(len(chunk))
			if r.opts.RecordSink != nil {
				r.opts.RecordSink.OnRecords(chunk)
			}
		}
	}
	if r.opts.StateFn != nil {
		pending, partitions := r.opts.StateFn()
		flow.ObserveState(pending, partitions)
	}
}
