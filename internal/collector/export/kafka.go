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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KafkaProducer is a minimal abstraction over a Kafka client.
// Implementations should enable idempotent production and, ideally, transactions
// if your topology requires atomic multi-message writes.
//
// Requirements:
//   - Idempotent producer ON (enable.idempotence=true)
//   - Use BatchID as the Kafka message key so broker dedup works and consumers
//     can drop replays cheaply
//   - Acks=all is recommended
//
// Note: We intentionally avoid importing a specific Kafka library.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaExporter publishes harvest batches as Kafka messages (WAL or primary store).
// Idempotency comes from:
//   - Producer retries are deduplicated by the broker when idempotence is enabled
//   - Consumers must track applied batch_ids and ignore duplicates
//
// This exporter does not apply state locally; it delegates materialization to
// downstream consumers.
type KafkaExporter struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

func NewKafkaExporter(p KafkaProducer, topic string) *KafkaExporter {
	return &KafkaExporter{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// BatchMessage is the serialized payload sent to Kafka.
// Message key: BatchID (bytes); payload includes every record of the batch,
// in harvest order.
type BatchMessage struct {
	BatchID  string          `json:"batch_id"`
	Records  []RecordMessage `json:"records"`
	TsUnixMs int64           `json:"ts_unix_ms"`
}

func (k *KafkaExporter) ExportBatch(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	if batch.BatchID == "" {
		return errors.New("Batch.BatchID must be set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	msg := BatchMessage{
		BatchID:  batch.BatchID,
		Records:  make([]RecordMessage, len(batch.Records)),
		TsUnixMs: time.Now().UnixMilli(),
	}
	for i, e := range batch.Records {
		msg.Records[i] = messageFor(e, batch.BatchID)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := k.producer.Produce(ctx, k.topic, []byte(batch.BatchID), b, headers); err != nil {
		return fmt.Errorf("kafka produce batch=%s: %w", batch.BatchID, err)
	}
	return nil
}
