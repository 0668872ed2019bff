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

// Package core contains shared, process-level metrics counters used for
// the final end-of-process summary in the mock exporter. These are kept
// lightweight and use atomic counters to avoid allocation and locks on the
// admission path.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	offered   atomic.Int64
	admitted  atomic.Int64
	dropped   atomic.Int64
	harvested atomic.Int64
	retained  atomic.Int64

	// thresholds holds human-readable configuration thresholds captured at runtime.
	thresholdsMu sync.RWMutex
	thresholds   = make(map[string]string)
)

// RecordOffer increments the number of offered samples (admitted or not).
func RecordOffer(n int64) {
	if n > 0 {
		offered.Add(n)
	}
}

// RecordAdmit increments the number of admitted samples.
func RecordAdmit(n int64) {
	if n > 0 {
		admitted.Add(n)
	}
}

// RecordDrop increments the number of rejected samples (capacity reached).
func RecordDrop(n int64) {
	if n > 0 {
		dropped.Add(n)
	}
}

// RecordHarvested increments the number of samples removed by harvest cycles.
func RecordHarvested(n int64) {
	if n > 0 {
		harvested.Add(n)
	}
}

// RecordRetained adds the number of samples still pending after a drain.
// These are the survivors a drain re-appended for a later cycle, plus any
// late arrivals that landed behind the drain marker.
func RecordRetained(n int64) {
	if n > 0 {
		retained.Add(n)
	}
}

// Threshold setters capture important runtime thresholds/config knobs for final printing.
func SetThreshold(name string, value string) {
	thresholdsMu.Lock()
	thresholds[name] = value
	thresholdsMu.Unlock()
}

func SetThresholdInt64(name string, v int64) { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdDuration(name string, d time.Duration) { SetThreshold(name, d.String()) }
func SetThresholdFloat64(name string, f float64) { SetThreshold(name, fmt.Sprintf("%g", f)) }
func SetThresholdBool(name string, b bool) { SetThreshold(name, fmt.Sprintf("%t", b)) }

// getEventTotals provides a snapshot of current counters.
func getEventTotals() (offeredN, admittedN, droppedN, harvestedN, retainedN int64) {
	return offered.Load(), admitted.Load(), dropped.Load(), harvested.Load(), retained.Load()
}

// getThresholdSnapshot returns a copy of thresholds for stable iteration/printing.
func getThresholdSnapshot() map[string]string {
	thresholdsMu.RLock()
	defer thresholdsMu.RUnlock()
	out := make(map[string]string, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

// resetEventTotals resets counters to zero. Intended for tests only.
func resetEventTotals() {
	offered.Store(0)
	admitted.Store(0)
	dropped.Store(0)
	harvested.Store(0)
	retained.Store(0)
	// Do not reset thresholds here; tests may set them explicitly per case.
}

// resetThresholdsForTests clears the thresholds registry. Intended for tests only.
func resetThresholdsForTests() {
	thresholdsMu.Lock()
	defer thresholdsMu.Unlock()
	for k := range thresholds {
		delete(thresholds, k)
	}
}
