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

// Package postgres provides a bulk lookup backend over a Postgres table,
// the kind of backend a batchloader.BulkFunc wraps to turn N individual
// row fetches into one SELECT ... WHERE id = ANY($1).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// importing for its side-effecting init also registers the "postgres"
	// sql.DB driver used by Open.
	"github.com/lib/pq"
)

// Schema (reference):
//
//	CREATE TABLE items (
//	  id    TEXT PRIMARY KEY,
//	  value TEXT NOT NULL
//	);
const selectByIDs = `SELECT id, value FROM items WHERE id = ANY($1)`

// Backend fetches rows for a batch of ids with a single SELECT ... ANY.
type Backend struct {
	db      *sql.DB
	table   string
	timeout time.Duration
}

// Open connects to Postgres using the lib/pq driver and returns a Backend
// reading from "items". dsn is a standard libpq connection string.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: open: %w", err)
	}
	return NewBackend(db), nil
}

// NewBackend wraps an already-open *sql.DB.
func NewBackend(db *sql.DB) *Backend {
	return &Backend{db: db, timeout: 10 * time.Second}
}

// Fetch is shaped to plug directly into batchloader.BulkFunc[string, string].
// A key with no matching row is simply absent from the returned map.
func (b *Backend) Fetch(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	rows, err := b.db.QueryContext(ctx, selectByIDs, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("postgres backend: select %d keys: %w", len(keys), err)
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("postgres backend: scan row: %w", err)
		}
		out[id] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres backend: iterate rows: %w", err)
	}
	return out, nil
}
