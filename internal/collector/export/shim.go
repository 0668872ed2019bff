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

package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"sampler/internal/collector/core"
)

// IdemShim adapts an IdempotentExporter to the core.Exporter interface used by
// the delivery pipeline. It generates an idempotency BatchID for each batch.
//
// Note: In production, you should provide stable IDs across retries. This shim
// generates fresh random IDs per call, which is sufficient for the demo wiring
// and avoids introducing external dependencies.
type IdemShim struct {
	impl IdempotentExporter
}

func NewIdemShim(impl IdempotentExporter) *IdemShim { return &IdemShim{impl: impl} }

// ExportBatch maps core.Record -> RecordEntry and forwards to the idempotent exporter.
func (s *IdemShim) ExportBatch(records []core.Record) error {
	if len(records) == 0 {
		return nil
	}
	entries := make([]RecordEntry, len(records))
	for i, r := range records {
		entries[i] = RecordEntry{
			App:         r.App,
			Name:        r.Name,
			ResourceID:  r.ResourceID,
			MonitorID:   r.MonitorID,
			JobID:       r.JobID,
			Priority:    r.Priority,
			DurationMs:  r.DurationMs,
			HarvestedAt: r.HarvestedAt,
		}
	}
	batch := Batch{BatchID: randomID(), Records: entries}
	return s.impl.ExportBatch(context.Background(), batch)
}

// PrintFinalSummary is a no-op for the shim. The pipeline already prints global
// metrics via the mock exporter when selected; real adapters can hook their own
// summaries if desired.
func (s *IdemShim) PrintFinalSummary() {}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
