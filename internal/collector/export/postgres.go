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
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS applied_batches (
//   batch_id TEXT PRIMARY KEY,
//   record_count BIGINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS harvested_samples (
//   id BIGSERIAL PRIMARY KEY,
//   batch_id TEXT NOT NULL REFERENCES applied_batches(batch_id),
//   app TEXT NOT NULL,
//   name TEXT NOT NULL,
//   resource_id TEXT,
//   monitor_id TEXT,
//   job_id TEXT,
//   priority DOUBLE PRECISION NOT NULL,
//   duration_ms BIGINT NOT NULL,
//   harvested_at BIGINT NOT NULL
// );
// CREATE INDEX IF NOT EXISTS idx_harvested_samples_app ON harvested_samples(app);
//
// Idempotent transaction per batch:
//   INSERT INTO applied_batches(batch_id, record_count) VALUES ($1,$2)
//     ON CONFLICT DO NOTHING;
//   -- RowsAffected == 0 means the batch was applied before: commit and stop.
//   -- RowsAffected == 1 claims the batch; insert the record rows.
// The marker insert and the record inserts share one transaction, so a crash
// between them leaves no marker behind and the retry applies cleanly.

// PostgresExporter applies batches idempotently using the pattern above.
type PostgresExporter struct {
	db *sql.DB
	// Optional: per-call timeout fallback if ctx has no deadline
	defaultTimeout time.Duration
}

// NewPostgresExporter creates an exporter over an opened *sql.DB. The caller
// owns the handle (driver registration, pooling, Close).
func NewPostgresExporter(db *sql.DB) *PostgresExporter {
	return &PostgresExporter{db: db, defaultTimeout: 10 * time.Second}
}

// ExportBatch applies the batch within a single transaction. A duplicate
// BatchID commits without inserting any rows.
func (p *PostgresExporter) ExportBatch(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	if batch.BatchID == "" {
		return errors.New("Batch.BatchID must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Provide a default timeout if caller didn't bound it.
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	// Ensure rollback on any failure.
	defer func() {
		_ = tx.Rollback()
	}()

	// Claim the batch. ON CONFLICT DO NOTHING makes the claim race-free across
	// retries and concurrent writers.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_batches(batch_id, record_count) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		batch.BatchID, len(batch.Records))
	if err != nil {
		return fmt.Errorf("insert applied_batches(%s): %w", batch.BatchID, err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected applied_batches(%s): %w", batch.BatchID, err)
	}
	if claimed == 0 {
		// Already applied; no-op.
		return tx.Commit()
	}

	for _, e := range batch.Records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO harvested_samples(batch_id, app, name, resource_id, monitor_id, job_id, priority, duration_ms, harvested_at)
			   VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			batch.BatchID, e.App, e.Name, e.ResourceID, e.MonitorID, e.JobID, e.Priority, e.DurationMs, e.HarvestedAt); err != nil {
			return fmt.Errorf("insert harvested_samples(%s/%s): %w", e.App, e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
