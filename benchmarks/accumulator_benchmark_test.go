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

// Package benchmarks contains the performance tests for the sample
// accumulator project.
package benchmarks

import (
	"strconv"
	"testing"

	"sampler"
	"sampler/internal/collector/core"
)

// benchSample is the minimal Sample shared by the benchmarks and the
// differential tests in this package.
type benchSample struct {
	key string
	id  int
}

func (s *benchSample) PartitionKey() string { return s.key }

// BenchmarkAccumulator_Offer_Uncontended measures the raw cost of admitting a
// sample from a single goroutine. This gives a baseline for the operation's
// overhead: one atomic gate check, one atomic reservation, one enqueue.
func BenchmarkAccumulator_Offer_Uncontended(b *testing.B) {
	acc := sampler.New(int64(b.N))
	s := &benchSample{key: "app-hot"}
	b.ResetTimer()
	// The loop is provided by the testing framework.
	for i := 0; i < b.N; i++ {
		acc.Offer(s)
	}
}

// BenchmarkAccumulator_Offer_Concurrent measures admission from multiple
// concurrent goroutines racing on a single accumulator. This is a stress test
// of the lock-free enqueue under tail contention.
func BenchmarkAccumulator_Offer_Concurrent(b *testing.B) {
	acc := sampler.New(int64(b.N))
	s := &benchSample{key: "app-hot"}
	b.ResetTimer()
	// b.RunParallel runs the inner function in parallel across multiple goroutines.
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			acc.Offer(s)
		}
	})
}

// BenchmarkRegistry_Observe_Concurrent measures the partition registry's
// Observe method when accessed concurrently by many goroutines for different
// keys. This simulates a real-world collector handling samples from many
// different applications simultaneously.
func BenchmarkRegistry_Observe_Concurrent(b *testing.B) {
	registry := core.NewRegistry()
	// Create a pool of keys to simulate different applications.
	numKeys := 1000
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = "app-" + strconv.Itoa(i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			// Cycle through the keys to simulate a mixed workload.
			registry.Observe(keys[i%numKeys])
			i++
		}
	})
}

// BenchmarkChanBuffer_Offer_Concurrent provides a baseline comparison against
// a buffered channel with a select-default send. This represents the fastest
// possible "traditional" bounded non-blocking queue in Go.
func BenchmarkChanBuffer_Offer_Concurrent(b *testing.B) {
	cb := NewChanBuffer(int64(b.N))
	s := &benchSample{key: "app-hot"}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cb.Offer(s)
		}
	})
}

/*
## In-Memory Admission Comparison (CPU & Memory Only)

This table compares the accumulator's admission path against the standard,
"best-in-class" alternative for a bounded non-blocking queue in Go. The
comparison deliberately ignores the harvest side to focus solely on the speed
of getting a sample accepted on the hot path.

| Feature                  | Accumulator `Offer()`                                                        | Buffered channel `select`/`default` (The Alternative)                        |
| :----------------------- | :--------------------------------------------------------------------------- | :--------------------------------------------------------------------------- |
| **Core Mechanism**       | Atomic gate check + atomic reservation + lock-free linked-list enqueue (CAS). | Runtime-managed ring buffer guarded by the channel's internal lock.           |
| **Allocation per op**    | One queue node.                                                               | None after the ring is allocated, but the full ring is allocated up front.    |
| **Bound semantics**      | Soft bound: a racing producer can briefly land one sample over capacity.      | Hard bound: the ring never holds more than cap(ch) items.                      |
| **Selective drain**      | **Yes.** Harvest removes one partition's samples and keeps the rest in order. | **No.** Items only leave from the front; keep-and-reorder requires re-sending, which can lose samples to racing producers. |

---

### Analysis: Trading a Hard Bound for a Usable Drain

The channel is the right answer when every consumer wants every item. This
workload is different: the harvester wants exactly one partition's samples and
must leave the rest untouched, in arrival order, while producers keep
offering. A channel cannot express that. The drain-and-resend workaround both
reorders survivors and silently drops them whenever a producer wins the race
for a freed slot, which is precisely the data loss this component exists to
avoid.

The accumulator pays for the selective drain with a per-offer node allocation
and a deliberately soft capacity bound. The overshoot is limited to one sample
per producer caught between the gate check and the reservation, which is noise
at realistic capacities, and the counter is corrected wholesale on every
harvest.

### Conclusion

Per-operation cost is comparable; the two structures differ in what they can
promise. The channel promises a hard bound and gives up selective harvest.
The accumulator promises lossless selective harvest and gives up exactness of
the bound. For a sampling pipeline that must never lose an admitted sample,
the second trade is the correct one.

---

*/
