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
	"sort"

	"sampler/internal/collector/core"
)

// RecordSelector orders and caps a flush batch before export. Implementations
// should be allocation-conscious; they run once per reporter flush.
type RecordSelector interface {
	// Select receives the drained records and may reorder, trim, or reuse the
	// input slice for its output.
	Select(in []core.Record) []core.Record
}

// PrioritySelector is the production baseline selector:
//   - stable sort by priority descending, so equal priorities keep their
//     harvest order and trace candidates (carrying the admission boost) win
//   - optional per-partition cap limiting how many records one application
//     contributes to a single flush (0 disables the cap)
//
// It is stateless across calls and reuses the input slice.
type PrioritySelector struct {
	PerPartitionCap int
}

// Select implements RecordSelector.
func (s PrioritySelector) Select(in []core.Record) []core.Record {
	if len(in) == 0 {
		return in
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].Priority > in[j].Priority })
	if s.PerPartitionCap <= 0 {
		return in
	}
	counts := make(map[string]int, 8)
	out := in[:0]
	for _, r := range in {
		if counts[r.App] >= s.PerPartitionCap {
			continue
		}
		counts[r.App]++
		out = append(out, r)
	}
	return out
}
