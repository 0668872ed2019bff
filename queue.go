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

package sampler

import "sync/atomic"

// queue is an unbounded lock-free multi-producer linked queue in the
// Michael-Scott style. enqueue is safe from any number of goroutines;
// dequeue is driven by the single harvester. Neither operation blocks or
// spins beyond the usual CAS retry under contention, and the garbage
// collector stands in for hazard pointers, so popped nodes need no reuse
// protocol.
type queue struct {
	head atomic.Pointer[node]
	tail atomic.Pointer[node]
}

type node struct {
	s    Sample
	next atomic.Pointer[node]
}

func newQueue() *queue {
	q := &queue{}
	dummy := &node{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

// enqueue appends s behind the current tail.
func (q *queue) enqueue(s Sample) {
	n := &node{s: s}
	for {
		t := q.tail.Load()
		next := t.next.Load()
		if t != q.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging behind an in-flight append; help it forward.
			q.tail.CompareAndSwap(t, next)
			continue
		}
		if t.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(t, n)
			return
		}
	}
}

// dequeue removes and returns the oldest sample, or (nil, false) when the
// queue is empty at observation time.
func (q *queue) dequeue() (Sample, bool) {
	for {
		h := q.head.Load()
		t := q.tail.Load()
		next := h.next.Load()
		if h != q.head.Load() {
			continue
		}
		if next == nil {
			return nil, false
		}
		if h == t {
			// An enqueue linked a node but has not swung the tail yet.
			q.tail.CompareAndSwap(t, next)
			continue
		}
		s := next.s
		if q.head.CompareAndSwap(h, next) {
			next.s = nil // the node becomes the dummy; do not pin the sample
			return s, true
		}
	}
}
