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
// accumulator.
package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the flat, downstream-facing form of a harvested sample. The
// accumulator deals in opaque Sample values; by the time a sample reaches an
// exporter it has been converted into this shape.
type Record struct {
	App         string
	Name        string
	ResourceID  string
	MonitorID   string
	JobID       string
	Priority    float64
	DurationMs  int64
	HarvestedAt int64 // UnixNano of the harvest cycle that removed the sample
}

// Exporter is the interface for any downstream delivery implementation.
// This allows us to easily swap out the backend (e.g., for a real collector
// endpoint).
type Exporter interface {
	ExportBatch(records []Record) error
	// PrintFinalSummary prints a single, end-of-process summary of export metrics.
	// Implementations should ensure this is safe to call after all exports are done.
	PrintFinalSummary()
}

// NewMockExporter creates a simple exporter that prints batches to the console.
// This is used for demonstration purposes.
func NewMockExporter() Exporter {
	return &mockExporter{}
}

type mockExporter struct {
	mu           sync.Mutex
	totalRecords int64
	totalBatches int64
}

var priorityNoteOnce sync.Once

// ExportBatch simulates delivering a batch of harvested records downstream.
func (e *mockExporter) ExportBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	fmt.Printf("[%s] Exporting batch of %d records...\n", time.Now().Format(time.RFC3339), len(records))
	priorityNoteOnce.Do(func() {
		yellow := "\x1b[33m"
		reset := "\x1b[0m"
		fmt.Printf("%s[%s] Priority note: admitted samples carry a fixed candidate boost, so they sort ahead of ambient traffic during selection.%s\n", yellow, time.Now().Format(time.RFC3339), reset)
	})
	for _, rec := range records {
		fmt.Printf("  - APP: %-18s NAME: %-28s PRIORITY: %6.1f DUR: %dms\n", rec.App, rec.Name, rec.Priority, rec.DurationMs)
	}

	e.mu.Lock()
	e.totalRecords += int64(len(records))
	e.totalBatches++
	e.mu.Unlock()

	return nil
}

// PrintFinalSummary prints a single yellow summary once at the end of the process.
func (e *mockExporter) PrintFinalSummary() {
	e.mu.Lock()
	totalRecords := e.totalRecords
	totalBatches := e.totalBatches
	e.mu.Unlock()

	offeredN, admittedN, droppedN, harvestedN, retainedN := getEventTotals()

	// Capture configured thresholds for printing.
	th := getThresholdSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	yellow := "\x1b[33m"
	reset := "\x1b[0m"
	now := time.Now().Format(time.RFC3339)

	// Survival: fraction of admitted samples that reached an exporter.
	var survivalStr string
	if admittedN > 0 {
		sv := float64(totalRecords) / float64(admittedN)
		if sv < 0 {
			sv = 0
		}
		if sv > 1 {
			sv = 1
		}
		survivalStr = fmt.Sprintf("%.1f%%", sv*100)
	} else {
		survivalStr = "n/a"
	}
	var dropStr string
	if offeredN > 0 {
		dropStr = fmt.Sprintf("%.1f%%", float64(droppedN)/float64(offeredN)*100)
	} else {
		dropStr = "n/a"
	}

	// Pretty, columnar output
	sep := strings.Repeat("-", 60)
	fmt.Printf("%s[%s] Final export metrics\n", yellow, now)
	fmt.Println(sep)
	fmt.Printf("%-18s %12s\n", "Metric", "Value")
	fmt.Println(sep)
	fmt.Printf("%-18s %12d\n", "Offered", offeredN)
	fmt.Printf("%-18s %12d\n", "Admitted", admittedN)
	fmt.Printf("%-18s %12d\n", "Dropped", droppedN)
	fmt.Printf("%-18s %12d\n", "Harvested", harvestedN)
	fmt.Printf("%-18s %12d\n", "Retained", retainedN)
	fmt.Printf("%-18s %12d\n", "Exported", totalRecords)
	fmt.Printf("%-18s %12d\n", "Batches", totalBatches)
	fmt.Printf("%-18s %12s\n", "Drop ratio", dropStr)
	fmt.Printf("%-18s %12s\n", "Survival", survivalStr)
	fmt.Println(sep)

	// Thresholds section
	if len(keys) > 0 {
		fmt.Printf("Configured thresholds\n")
		fmt.Println(sep)
		fmt.Printf("%-30s %24s\n", "Name", "Value")
		fmt.Println(sep)
		for _, k := range keys {
			fmt.Printf("%-30s %24s\n", k, th[k])
		}
		fmt.Println(sep)
	}

	fmt.Println("Impact: bounded pending set -> stable memory, no producer stalls, guaranteed probe retention per cycle.")
	fmt.Println("Pending samples: anything admitted after the last cycle is drained on graceful shutdown; abrupt termination may leave some in-memory until next start.")
	fmt.Print(reset)
}
