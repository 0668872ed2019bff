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
	"sort"

	"sampler/internal/collector/core"
)

// AuditEntry is the durable trace of one admission. The pipeline emits one
// per accepted sample; replay tooling tallies them against the export log to
// check that nothing left the process that was never admitted.
type AuditEntry struct {
	App        string  `json:"app"`
	Name       string  `json:"name"`
	Priority   float64 `json:"priority"`
	AdmittedAt int64   `json:"admitted_at"` // UnixMilli at admission
}

// State is a minimal in-memory tally for replay verification: per-partition
// admitted and exported counts rebuilt from the audit and record logs.
type State struct {
	admitted map[string]int64
	exported map[string]int64
}

func NewState() *State {
	return &State{admitted: make(map[string]int64), exported: make(map[string]int64)}
}

// ApplyAudit tallies admission entries, in any order.
func (s *State) ApplyAudit(entries []AuditEntry) {
	for _, e := range entries {
		s.admitted[e.App]++
	}
}

// ApplyRecords tallies exported records, in any order.
func (s *State) ApplyRecords(recs []core.Record) {
	for _, r := range recs {
		s.exported[r.App]++
	}
}

// AdmittedFor returns the replayed admission count for a partition.
func (s *State) AdmittedFor(app string) int64 { return s.admitted[app] }

// ExportedFor returns the replayed export count for a partition.
func (s *State) ExportedFor(app string) int64 { return s.exported[app] }

// Totals returns the overall admitted and exported counts.
func (s *State) Totals() (admitted, exported int64) {
	for _, n := range s.admitted {
		admitted += n
	}
	for _, n := range s.exported {
		exported += n
	}
	return admitted, exported
}

// Verify checks conservation: no partition may export more records than it
// admitted. Exporting fewer is legal; samples may still be pending, selected
// out by a per-partition cap, or lost to an abrupt stop. Returns an error
// naming every violating partition, sorted for determinism.
func (s *State) Verify() error {
	var bad []string
	for app, exp := range s.exported {
		if adm := s.admitted[app]; exp > adm {
			bad = append(bad, fmt.Sprintf("partition %s: exported %d exceeds admitted %d", app, exp, adm))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("conservation violated: %v", bad)
}
