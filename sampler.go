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

// Package sampler provides a bounded, non-blocking accumulator that retains
// a fixed set of high-priority samples between periodic harvest cycles. Any
// number of producers may offer samples concurrently; a single scheduler
// drains one partition per harvest call without ever locking producers out.
package sampler

import "sync/atomic"

// DefaultCapacity bounds the number of samples retained between harvest
// cycles when no explicit capacity is configured.
const DefaultCapacity = 20

// Sample is one unit of data offered for retention. Implementations carry an
// arbitrary payload; the accumulator reads nothing but the partition key.
type Sample interface {
	// PartitionKey identifies which harvest call the sample belongs to,
	// for example an application name. Keys are compared with ==.
	PartitionKey() string
}

// harvestMarker is the identity-only sentinel that bounds one harvest's drain
// loop. Comparing interface values with == makes the check a pointer identity
// test, so no caller-provided Sample can ever collide with it.
type harvestMarker struct{}

func (*harvestMarker) PartitionKey() string { return "" }

// Accumulator holds pending samples in admission order together with a
// reservation counter that gates admission. The counter is eventually
// consistent with true occupancy: it may briefly overshoot while producers
// race, and it is reconciled in one step at the end of each harvest.
//
// The queue and the counter are the only shared mutable state; both support
// concurrent mutation without a lock, so an Accumulator is safe to share
// across any number of producer goroutines.
type Accumulator struct {
	reserved atomic.Int64
	capacity int64
	pending  *queue

	// marker is owned by this instance; it never escapes Harvest and is
	// never counted in reserved.
	marker Sample
}

// New returns an empty accumulator admitting up to capacity samples.
// A capacity of zero or less falls back to DefaultCapacity.
func New(capacity int64) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Accumulator{
		capacity: capacity,
		pending:  newQueue(),
		marker:   &harvestMarker{},
	}
}

// Offer admits s unless the accumulator is already at capacity. It returns
// true iff the sample was enqueued; false is a backpressure signal, not an
// error. Offer never blocks and performs a bounded number of atomic steps.
//
// The capacity check and the increment are two separate operations on
// purpose: producers racing through the gap may all pass the check before
// any of them increments, overshooting capacity by at most one sample per
// extra racing producer. The overshoot is part of the contract — closing the
// window with a compare-and-swap loop would reintroduce retries on the
// producers' latency-sensitive path.
func (a *Accumulator) Offer(s Sample) bool {
	if a.reserved.Load() >= a.capacity {
		return false
	}
	a.reserved.Add(1)
	a.pending.enqueue(s)
	return true
}

// Harvest removes and returns every pending sample whose partition key
// equals partition. Samples with other keys are re-appended behind whatever
// producers enqueued during the call, keeping their order relative to each
// other. An empty partition returns nil without touching queue or counter.
//
// At most one Harvest may be in flight at a time; cycles are serialized by
// the caller. Producers may keep offering concurrently without restriction.
func (a *Accumulator) Harvest(partition string) []Sample {
	if partition == "" {
		return nil
	}

	// The marker bounds the drain: exactly the items queued ahead of it are
	// visited, so the loop terminates even while producers append behind it.
	a.pending.enqueue(a.marker)

	var out []Sample
	var removed int64
	for {
		s, _ := a.pending.dequeue()
		if s == a.marker { // identity, never equality
			break
		}
		if s.PartitionKey() == partition {
			out = append(out, s)
			removed++
		} else {
			a.pending.enqueue(s)
		}
	}

	// One bulk subtraction after the marker is consumed, never per item:
	// decrementing mid-drain would reopen capacity while non-matching samples
	// are still rotating back, letting racing producers flap between admit
	// and reject within a single cycle.
	a.reserved.Add(-removed)
	return out
}

// Pending reports the reservation counter: an eventually consistent estimate
// of queued samples. It may briefly exceed true occupancy after racing
// admits and matches it again after each harvest's bulk decrement.
func (a *Accumulator) Pending() int64 { return a.reserved.Load() }

// Capacity reports the configured admission bound.
func (a *Accumulator) Capacity() int64 { return a.capacity }
