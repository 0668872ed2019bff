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
	"errors"
	"fmt"
	"time"

	"sampler/internal/collector/core"
)

// BuildExporter constructs a core.Exporter based on a string selector.
// Supported adapters:
//   - "mock": in-process logger (default; prints a final summary on shutdown)
//   - "redis": idempotent Redis adapter; uses a logging client unless RedisAddr is set
//   - "kafka": idempotent Kafka adapter using a logging producer (no broker)
//   - "postgres": idempotent Postgres adapter; requires an opened *sql.DB
//
// The purpose is to let users try different idempotent adapters without
// requiring infrastructure. For production, supply real clients and wire them directly.
func BuildExporter(adapter string, opts DemoOptions) (core.Exporter, error) {
	switch adapter {
	case "", "mock":
		return core.NewMockExporter(), nil
	case "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			// Use a real Redis client when address is provided.
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			// Fallback to logging client for dependency-free demo.
			evaler = LoggingRedisEvaler{}
		}
		r := NewRedisExporter(evaler, ttl)
		return NewIdemShim(r), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "sampler-harvest"
		}
		k := NewKafkaExporter(LoggingKafkaProducer{}, topic)
		return NewIdemShim(k), nil
	case "postgres":
		if opts.PostgresDB == nil {
			return nil, errors.New("postgres adapter requires an opened database handle; supply a DSN so the caller can open one")
		}
		p := NewPostgresExporter(opts.PostgresDB)
		return NewIdemShim(p), nil
	default:
		return nil, fmt.Errorf("unknown export adapter: %s", adapter)
	}
}
