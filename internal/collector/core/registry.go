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
// accumulator. This file tracks which partitions (application names) have been
// seen on the admission path so the harvest scheduler knows what to drain.
package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// trackedPartition is the per-partition bookkeeping entry. The accumulator
// itself has no idea which partitions exist; it only compares keys during a
// drain. The registry fills that gap for the scheduler.
//
// lastSeen is updated on every admission and is used for idle eviction.
// admitted counts admissions since the entry was created (or re-created after
// an eviction); it feeds the final report, not any control decision.
type trackedPartition struct {
	// lastSeen stores the last admission time in UnixNano to allow atomic access across goroutines.
	lastSeen int64
	admitted atomic.Int64
}

// Registry tracks the set of partitions with pending or recent samples.
// It is thread-safe and designed for high-frequency concurrent updates on
// the admission path.
type Registry struct {
	partitions sync.Map
}

// NewRegistry creates an empty partition registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Observe records an admission for a partition, creating the entry on first
// sight and refreshing lastSeen otherwise.
//
// Optimization: avoid allocating on the common case where the partition is
// already tracked. We first try a plain Load (no allocation). Only on a miss
// do we allocate the entry and attempt a LoadOrStore. In a race where another
// goroutine creates the entry first, the extra allocation is rare and
// immediately discarded.
func (r *Registry) Observe(partition string) {
	now := time.Now().UnixNano()

	// Fast path: partition already tracked → no allocations.
	if actual, ok := r.partitions.Load(partition); ok {
		entry := actual.(*trackedPartition)
		atomic.StoreInt64(&entry.lastSeen, now)
		entry.admitted.Add(1)
		return
	}

	// Miss: lazily allocate only now.
	newEntry := &trackedPartition{lastSeen: now}
	newEntry.admitted.Store(1)

	// Try to publish; if another goroutine won the race, update that entry.
	if actual, loaded := r.partitions.LoadOrStore(partition, newEntry); loaded {
		entry := actual.(*trackedPartition)
		atomic.StoreInt64(&entry.lastSeen, now)
		entry.admitted.Add(1)
	}
}

// ForEach allows iterating over all tracked partitions.
func (r *Registry) ForEach(f func(partition string, e *trackedPartition)) {
	r.partitions.Range(func(key, value interface{}) bool {
		f(key.(string), value.(*trackedPartition))
		return true // continue iterating
	})
}

// Partitions returns a snapshot of the tracked partition names. Order is not
// specified; the harvest scheduler does not depend on it.
func (r *Registry) Partitions() []string {
	var out []string
	r.partitions.Range(func(key, _ interface{}) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

// Admitted returns the admission count recorded for a partition, or 0 when
// the partition is not tracked.
func (r *Registry) Admitted(partition string) int64 {
	if actual, ok := r.partitions.Load(partition); ok {
		return actual.(*trackedPartition).admitted.Load()
	}
	return 0
}

// Len reports the number of tracked partitions.
func (r *Registry) Len() int {
	n := 0
	r.partitions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Delete removes a partition from the registry. This is used by the eviction
// pass after a final drain; a later admission re-creates the entry.
func (r *Registry) Delete(partition string) {
	r.partitions.Delete(partition)
}
