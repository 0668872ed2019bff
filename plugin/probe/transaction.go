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
	"time"

	"sampler/internal/collector/core"
)

// Attribute and priority constants for trace-candidate marking.
const (
	// AttrTraceCandidate marks a transaction whose trace should be kept by
	// downstream samplers.
	AttrTraceCandidate = "trace.candidate"
	// CandidateBoost is the fixed priority bump applied on admission so
	// candidates win priority-ordered selection at harvest time.
	CandidateBoost = 5.0
)

// Transaction is one finished unit of work observed by the agent. Probe-origin
// transactions (scripted synthetic monitors) carry a resource id, usually with
// monitor and job ids alongside.
//
// Ownership contract: producers may mutate a transaction only until it has
// been admitted into the accumulator. After admission the next writer is the
// harvest side; there is no locking here because the admission enqueue
// publishes the final state.
type Transaction struct {
	AppName   string
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	Priority  float64

	// Probe provenance. ResourceID non-empty means probe-origin.
	ResourceID string
	MonitorID  string
	JobID      string

	attrs map[string]any
}

// PartitionKey groups samples by application for harvest.
func (t *Transaction) PartitionKey() string { return t.AppName }

// SetAttribute stores an agent attribute on the transaction.
func (t *Transaction) SetAttribute(key string, value any) {
	if t.attrs == nil {
		t.attrs = make(map[string]any, 4)
	}
	t.attrs[key] = value
}

// Attribute returns an agent attribute and whether it was set.
func (t *Transaction) Attribute(key string) (any, bool) {
	v, ok := t.attrs[key]
	return v, ok
}

// IsCandidate reports whether the transaction carries the trace-candidate mark.
func (t *Transaction) IsCandidate() bool {
	v, ok := t.attrs[AttrTraceCandidate]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// markCandidate applies the trace-candidate attribute and priority boost.
// Must only be called while the producer still owns the transaction.
func (t *Transaction) markCandidate() {
	t.Priority += CandidateBoost
	t.SetAttribute(AttrTraceCandidate, true)
}

// unmarkCandidate reverts markCandidate after a rejected admission, restoring
// the transaction exactly as the producer handed it in.
func (t *Transaction) unmarkCandidate() {
	t.Priority -= CandidateBoost
	delete(t.attrs, AttrTraceCandidate)
}

// ExportRecord stamps the transaction into the flat record shape the export
// adapters consume. harvestedAt is the drain time assigned by the reporter.
func (t *Transaction) ExportRecord(harvestedAt time.Time) core.Record {
	return core.Record{
		App:         t.AppName,
		Name:        t.Name,
		ResourceID:  t.ResourceID,
		MonitorID:   t.MonitorID,
		JobID:       t.JobID,
		Priority:    t.Priority,
		DurationMs:  t.Duration.Milliseconds(),
		HarvestedAt: harvestedAt.UnixNano(),
	}
}

// Now is abstracted for testability.
var Now = func() time.Time { return time.Now() }
