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
	"container/list"

	"sampler/internal/collector/core"
)

// lane is a per-partition FIFO of export records awaiting delivery.
type lane struct {
	partition string
	queue     *list.List // of core.Record
}

func newLane(partition string) *lane {
	return &lane{partition: partition, queue: list.New()}
}

// enqueue appends records preserving their harvest order.
func (l *lane) enqueue(recs []core.Record) {
	for _, r := range recs {
		l.queue.PushBack(r)
	}
}

// drain returns all queued records in order and clears the lane.
func (l *lane) drain() []core.Record {
	var out []core.Record
	for e := l.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(core.Record))
	}
	l.queue.Init()
	return out
}

func (l *lane) size() int { return l.queue.Len() }

// laneRouter maps partitions to lanes so records keep per-application FIFO
// order during fan-in from harvest batches. Not safe for concurrent use; the
// reporter goroutine owns it exclusively.
type laneRouter struct {
	lanes map[string]*lane
	order []string // first-seen partition order for deterministic flushes
}

func newLaneRouter() *laneRouter {
	return &laneRouter{lanes: make(map[string]*lane)}
}

func (r *laneRouter) route(partition string) *lane {
	ln := r.lanes[partition]
	if ln == nil {
		ln = newLane(partition)
		r.lanes[partition] = ln
		r.order = append(r.order, partition)
	}
	return ln
}

// drainAll concatenates every lane in first-seen partition order, FIFO within
// each lane, and clears them.
func (r *laneRouter) drainAll() []core.Record {
	var out []core.Record
	for _, partition := range r.order {
		out = append(out, r.lanes[partition].drain()...)
	}
	return out
}

// requeue puts records back after a failed export, routing each by its App.
// Lanes are empty right after a drain, so relative order is preserved.
func (r *laneRouter) requeue(recs []core.Record) {
	for _, rec := range recs {
		ln := r.route(rec.App)
		ln.queue.PushBack(rec)
	}
}

// totalQueued returns the number of records waiting across all lanes.
func (r *laneRouter) totalQueued() int {
	n := 0
	for _, ln := range r.lanes {
		n += ln.size()
	}
	return n
}
