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

// Package redis provides a bulk lookup backend over a Redis string keyspace,
// the kind of backend a batchloader.BulkFunc wraps to turn N individual
// gets into one MGET.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Getter abstracts the client surface a Backend needs. *goredis.Client
// satisfies it; tests can supply a fake.
type Getter interface {
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
}

// Backend fetches string values for a batch of keys with a single MGET.
type Backend struct {
	client Getter
	prefix string
}

// NewBackend wraps an existing go-redis client. prefix, if non-empty, is
// prepended to every key before it reaches Redis (e.g. "item:").
func NewBackend(client Getter, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

// NewClient is a thin convenience wrapper around goredis.NewClient for
// callers that don't already have a client around.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

func (b *Backend) key(id string) string {
	if b.prefix == "" {
		return id
	}
	return b.prefix + id
}

// Fetch is shaped to plug directly into batchloader.BulkFunc[string, string]:
// missing keys are simply absent from the returned map, matching the
// engine's not-found convention.
func (b *Backend) Fetch(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.key(k)
	}
	values, err := b.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backend: mget %d keys: %w", len(keys), err)
	}
	out := make(map[string]string, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = s
	}
	return out, nil
}
