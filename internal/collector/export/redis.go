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

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval) or any equivalent.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisExporter applies harvest batches idempotently using a Lua script:
// 1) SETNX batch:<batch_id>:<app> 1
// 2) If set -> RPUSH harvest:<app> with every record payload, preserving order
// 3) EXPIRE the marker (TTL) for leak protection
// If SETNX fails (already applied), returns OK and makes no changes.
type RedisExporter struct {
	client    RedisEvaler
	markerTTL time.Duration
}

// NewRedisExporter returns an exporter with the given client and marker TTL.
// markerTTL guards against unbounded growth of batch markers; choose a duration
// comfortably larger than your maximum retry window.
func NewRedisExporter(client RedisEvaler, markerTTL time.Duration) *RedisExporter {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisExporter{client: client, markerTTL: markerTTL}
}

// redisLuaScript performs the idempotent append. It returns the number of
// records pushed, or 0 if the batch was already applied.
const redisLuaScript = `
local listKey = KEYS[1]
local markerKey = KEYS[2]
local ttlSeconds = tonumber(ARGV[1])
-- try to set the idempotency marker
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  for i = 2, #ARGV do
    redis.call('RPUSH', listKey, ARGV[i])
  end
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return #ARGV - 1
else
  -- already applied; no-op
  return 0
end
`

// Keys layout helpers (public for interoperability with other components)
func RedisHarvestKey(app string) string { return fmt.Sprintf("harvest:%s", app) }
func RedisBatchMarkerKey(batchID, app string) string { return fmt.Sprintf("batch:%s:%s", batchID, app) }

// ExportBatch applies the batch with one EVAL per application so each app list
// receives its records in harvest order. The marker is per (batch, app), which
// keeps partial retries idempotent as well.
func (r *RedisExporter) ExportBatch(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	if batch.BatchID == "" {
		return errors.New("Batch.BatchID must be set")
	}

	// Group payloads per app, preserving record order within each group.
	var apps []string
	grouped := make(map[string][]interface{})
	for _, e := range batch.Records {
		payload, err := json.Marshal(messageFor(e, batch.BatchID))
		if err != nil {
			return fmt.Errorf("marshal record app=%s: %w", e.App, err)
		}
		if _, seen := grouped[e.App]; !seen {
			apps = append(apps, e.App)
		}
		grouped[e.App] = append(grouped[e.App], string(payload))
	}

	for _, app := range apps {
		keys := []string{RedisHarvestKey(app), RedisBatchMarkerKey(batch.BatchID, app)}
		args := append([]interface{}{int(r.markerTTL.Seconds())}, grouped[app]...)
		if _, err := r.client.Eval(ctx, redisLuaScript, keys, args...); err != nil {
			return fmt.Errorf("redis eval app=%s batch=%s: %w", app, batch.BatchID, err)
		}
	}
	return nil
}
