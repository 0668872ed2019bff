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

// Package reservoir provides a mutex-guarded, in-memory implementation of the
// bounded sample accumulator contract. It favors exact occupancy accounting
// over admission throughput: one lock serializes every operation, so the
// reported pending count always equals true queue occupancy and the capacity
// bound is never overshot. That makes it the reference oracle for
// differential tests against the lock-free accumulator, and a reasonable
// choice when producers are few.
package reservoir

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the number of samples retained between harvest
// cycles when no explicit capacity is configured.
const DefaultCapacity = 20

// Sample is one unit of data offered for retention. The reservoir reads
// nothing but the partition key.
type Sample interface {
	PartitionKey() string
}

// Reservoir holds pending samples in admission order behind a single mutex.
type Reservoir struct {
	mu       sync.Mutex
	capacity int64
	pending  *list.List // of Sample, admission order
}

// New returns an empty reservoir admitting up to capacity samples.
// A capacity of zero or less falls back to DefaultCapacity.
func New(capacity int64) *Reservoir {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reservoir{
		capacity: capacity,
		pending:  list.New(),
	}
}

// Offer admits s unless the reservoir is already at capacity. It returns true
// iff the sample was enqueued. Unlike the lock-free accumulator, the check
// and the insert happen under one lock, so occupancy never exceeds capacity.
func (r *Reservoir) Offer(s Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int64(r.pending.Len()) >= r.capacity {
		return false
	}
	r.pending.PushBack(s)
	return true
}

// Harvest removes and returns every pending sample whose partition key equals
// partition, in admission order. Samples with other keys keep their relative
// order. An empty partition returns nil without touching the queue.
//
// The lock is held for the whole sweep, so no producer can interleave with a
// drain; every behavior observable here is also a legal behavior of the
// lock-free accumulator.
func (r *Reservoir) Harvest(partition string) []Sample {
	if partition == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Sample
	for e := r.pending.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(Sample)
		if s.PartitionKey() == partition {
			out = append(out, s)
			r.pending.Remove(e)
		}
		e = next
	}
	return out
}

// Pending reports the exact number of queued samples.
func (r *Reservoir) Pending() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(r.pending.Len())
}

// Capacity reports the configured admission bound.
func (r *Reservoir) Capacity() int64 { return r.capacity }
