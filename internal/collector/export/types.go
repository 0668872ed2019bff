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

// Package export provides idempotent delivery adapters for Postgres, Redis, and Kafka.
//
// These adapters implement a common Batch shape that includes an idempotency key
// (batch_id). The goal is that if a batch is retried (crash, timeout, duplicate
// delivery), applying it again is a no-op. Harvested samples must never be
// double-counted downstream just because the delivery path retried.
package export

import "context"

// RecordEntry is the adapter-facing shape of a single harvested sample.
//
// Fields:
//   - App: partition key the sample was harvested under
//   - Name: transaction name as reported by the probe
//   - ResourceID/MonitorID/JobID: synthetic-probe correlation identifiers
//   - Priority: selection priority, including any candidate boost
//   - DurationMs: observed transaction duration
//   - HarvestedAt: UnixNano timestamp of the harvest cycle
//
// Notes:
//   - This type is separate from core.Record to avoid coupling the scheduler
//     to adapter serialization concerns.
type RecordEntry struct {
	App         string
	Name        string
	ResourceID  string
	MonitorID   string
	JobID       string
	Priority    float64
	DurationMs  int64
	HarvestedAt int64
}

// Batch is the unit of idempotent delivery.
//
// BatchID is a globally unique idempotency key for the batch. Re-using the
// same id for a retried batch makes the operation a no-op. Callers are
// responsible for generating stable BatchIDs across retries; UUIDv4/ULID or
// a monotonic stream id per harvest cycle are typical choices.
type Batch struct {
	BatchID string
	Records []RecordEntry
}

// RecordMessage is the serialized per-record payload shared by the Redis and
// Kafka adapters. Downstream consumers and the e2e tests decode this shape.
type RecordMessage struct {
	App         string  `json:"app"`
	Name        string  `json:"name"`
	ResourceID  string  `json:"resource_id,omitempty"`
	MonitorID   string  `json:"monitor_id,omitempty"`
	JobID       string  `json:"job_id,omitempty"`
	Priority    float64 `json:"priority"`
	DurationMs  int64   `json:"duration_ms"`
	HarvestedAt int64   `json:"harvested_at"`
	BatchID     string  `json:"batch_id"`
}

// messageFor converts an entry to its wire shape.
func messageFor(e RecordEntry, batchID string) RecordMessage {
	return RecordMessage{
		App:         e.App,
		Name:        e.Name,
		ResourceID:  e.ResourceID,
		MonitorID:   e.MonitorID,
		JobID:       e.JobID,
		Priority:    e.Priority,
		DurationMs:  e.DurationMs,
		HarvestedAt: e.HarvestedAt,
		BatchID:     batchID,
	}
}

// IdempotentExporter defines the minimal API supported by all adapters.
// Implementations must apply each batch atomically with respect to its
// idempotency key. The operation must be safe to retry.
//
// The method accepts a context to allow timeouts and cancellation.
// Implementations must ensure that a duplicate BatchID becomes a no-op.
type IdempotentExporter interface {
	ExportBatch(ctx context.Context, batch Batch) error
}
