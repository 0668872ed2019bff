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
	"sampler"
	"sampler/internal/collector/core"
	"sampler/internal/collector/telemetry/flow"
)

// AuditSink records admitted samples for offline replay and conservation
// checks. Implementations must be bounded in latency; the pipeline calls it on
// the ingest path after a successful admission.
type AuditSink interface {
	OnAdmit(AuditEntry)
}

// PipelineOptions configure optional integrations. All fields may be zero.
type PipelineOptions struct {
	// Audit, when set, receives one entry per admitted sample.
	Audit AuditSink
}

// Pipeline is the ingest façade in front of the accumulator. It classifies
// incoming transactions, marks admitted ones as trace candidates, and keeps
// the partition registry and telemetry in step with admission outcomes.
// Callers (HTTP handlers, simulators) only deal with transactions; the
// accumulator contract stays behind this type.
type Pipeline struct {
	acc      *sampler.Accumulator
	registry *core.Registry
	audit    AuditSink
}

// NewPipeline wires a pipeline over an accumulator and its registry.
func NewPipeline(acc *sampler.Accumulator, registry *core.Registry, opts PipelineOptions) *Pipeline {
	return &Pipeline{acc: acc, registry: registry, audit: opts.Audit}
}

// Offer classifies the transaction and, when it is probe-origin, attempts
// admission into the accumulator. It returns true only when the sample was
// accepted into the pending set.
//
// Admitted transactions are marked as trace candidates (attribute plus
// priority boost) before the enqueue; a rejected admission reverts the mark so
// the caller gets its transaction back unchanged. Non-probe transactions
// bypass the accumulator entirely.
func (p *Pipeline) Offer(t *Transaction) (bool, error) {
	isProbe, err := Classify(t)
	if err != nil {
		return false, err
	}
	if !isProbe {
		return false, nil
	}

	t.markCandidate()
	core.RecordOffer(1)
	admitted := p.acc.Offer(t)
	if !admitted {
		t.unmarkCandidate()
		core.RecordDrop(1)
		flow.ObserveOffer(t.AppName, false)
		return false, nil
	}

	p.registry.Observe(t.AppName)
	core.RecordAdmit(1)
	flow.ObserveOffer(t.AppName, true)
	if p.audit != nil {
		p.audit.OnAdmit(AuditEntry{
			App:        t.AppName,
			Name:       t.Name,
			Priority:   t.Priority,
			AdmittedAt: Now().UnixMilli(),
		})
	}
	return true, nil
}

// Pending reports the accumulator's current pending estimate.
func (p *Pipeline) Pending() int64 { return p.acc.Pending() }

// Capacity reports the accumulator's configured capacity.
func (p *Pipeline) Capacity() int64 { return p.acc.Capacity() }
