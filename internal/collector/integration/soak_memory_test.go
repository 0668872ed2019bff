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

// Package integration provides longer-running, cross-component tests.
package integration

import (
	"runtime"
	"testing"
	"time"

	"sampler/plugin/probe"
)

// Test_Soak_MemoryBounded performs a short soak under a sustained hot-partition
// feed and asserts that heap usage stabilizes (no runaway growth). The bounded
// accumulator is the mechanism: pending samples can never exceed capacity, so
// steady-state memory is flat no matter how long the feed runs. This is a
// CI-friendly proxy for a longer 30-60m soak.
func Test_Soak_MemoryBounded(t *testing.T) {
	// Reduce scheduler noise for repeatability
	prev := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(prev)

	const capacity = 1024
	exp := &countingExporter{}
	pipe, acc, stopPipeline := startPipeline(exp, capacity, probe.PipelineOptions{}, probe.ReporterOptions{})

	// Drive a hot partition in a separate goroutine.
	var admitted int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Microsecond * 200) // ~5k/s
		defer ticker.Stop()
		seq := 0
		for {
			select {
			case <-ticker.C:
				ok, err := pipe.Offer(probeTxn("soak-hot", seq))
				if err == nil && ok {
					admitted++
				}
				seq++
			case <-stop:
				return
			}
		}
	}()

	// Sample heap and pending depth over time; assert the last heap sample is
	// not much larger than the first, and that the single producer never
	// observed pending above the configured bound.
	samples := make([]uint64, 0, 12)
	var maxPending int64
	duration := 8 * time.Second
	tick := time.Second
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		samples = append(samples, ms.HeapAlloc)
		if p := acc.Pending(); p > maxPending {
			maxPending = p
		}
		time.Sleep(tick)
	}
	close(stop)
	<-done
	stopPipeline()

	if len(samples) < 2 {
		t.Skip("insufficient samples; skipping assertion")
	}

	first := samples[0]
	last := samples[len(samples)-1]

	// Allow generous 2x headroom to avoid false positives on GC timing differences.
	if last > first*2 && last-first > 8*1024*1024 { // also require an absolute delta >8MB
		t.Fatalf("heap growth too high over soak: first=%d last=%d", first, last)
	}

	// A single producer cannot over-admit, so pending must stay within bounds.
	if maxPending > capacity {
		t.Fatalf("pending exceeded capacity with a single producer: max=%d cap=%d", maxPending, capacity)
	}

	// Everything admitted during the soak must have reached the exporter after
	// the ordered shutdown.
	if int64(exp.rows) != admitted {
		t.Fatalf("conservation broken after soak: exported %d of %d admitted", exp.rows, admitted)
	}
}
