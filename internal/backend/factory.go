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

// Package backend wires concrete storage clients into batchloader.BulkFunc
// values, and selects an AuditSink for flush auditing. It is the one place
// demo and production binaries choose which backing store they talk to.
package backend

import (
	"context"
	"fmt"
	"time"

	"batchloader"
	kafkaaudit "batchloader/internal/backend/kafka"
	"batchloader/internal/backend/postgres"
	backendredis "batchloader/internal/backend/redis"
)

// Options holds the knobs BuildLookup and BuildAuditSink need. Zero values
// select the dependency-free logging fallback for the redis and kafka
// backends; the postgres backend has no fallback and requires a DSN.
type Options struct {
	RedisAddr    string
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
}

// BuildLookup returns a batchloader.BulkFunc[string, string] for the named
// adapter: "redis", "postgres", or "mock" (an in-process map, the default).
// Each case is a small demonstration of which real dependency wraps the
// batch slot's keys for that storage engine.
func BuildLookup(adapter string, opts Options) (batchloader.BulkFunc[string, string], error) {
	switch adapter {
	case "", "mock":
		return mockLookup(), nil
	case "redis":
		var client backendredis.Getter
		if opts.RedisAddr != "" {
			client = backendredis.NewClient(opts.RedisAddr)
		} else {
			client = backendredis.LoggingGetter{}
		}
		b := backendredis.NewBackend(client, "")
		return func(keys []string) (map[string]string, error) {
			return b.Fetch(context.Background(), keys)
		}, nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("backend: postgres adapter requires a DSN")
		}
		b, err := postgres.Open(opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return func(keys []string) (map[string]string, error) {
			return b.Fetch(context.Background(), keys)
		}, nil
	default:
		return nil, fmt.Errorf("backend: unknown adapter %q", adapter)
	}
}

// BuildAuditSink returns the batchloader.AuditSink for the named adapter:
// "kafka" or "none" (the default — no auditing).
func BuildAuditSink(adapter string, opts Options) (batchloader.AuditSink, error) {
	switch adapter {
	case "", "none":
		return nil, nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "batchloader-flushes"
		}
		var producer kafkaaudit.Producer
		if len(opts.KafkaBrokers) > 0 {
			p, err := kafkaaudit.NewSyncProducer(opts.KafkaBrokers)
			if err != nil {
				return nil, err
			}
			producer = p
		} else {
			producer = kafkaaudit.LoggingProducer{}
		}
		return kafkaaudit.NewAuditSink(producer, topic), nil
	default:
		return nil, fmt.Errorf("backend: unknown audit sink %q", adapter)
	}
}

// mockLookup is the dependency-free default: a small in-memory table, handy
// for demos and local runs with no infrastructure.
func mockLookup() batchloader.BulkFunc[string, string] {
	data := map[string]string{
		"alice": "Alice Anderson",
		"bob":   "Bob Brennan",
		"carol": "Carol Chen",
		"dave":  "Dave Delgado",
		"erin":  "Erin Escobar",
	}
	return func(keys []string) (map[string]string, error) {
		time.Sleep(2 * time.Millisecond) // simulate network latency
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			if v, ok := data[k]; ok {
				out[k] = v
			}
		}
		return out, nil
	}
}
