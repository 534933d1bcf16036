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

package batchloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func collectResults[T any](t *testing.T, ch <-chan Result[T], want int) []Result[T] {
	t.Helper()
	out := make([]Result[T], want)
	for i := 0; i < want; i++ {
		select {
		case r := <-ch:
			out[r.Index] = r
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d/%d", i+1, want)
		}
	}
	return out
}

// scenario 1: a single lookup per task resolves to the right value.
func TestResolveSimpleLookup(t *testing.T) {
	mgr := NewLookupManager()
	var calls int32
	fn := func(keys []string) (map[string]string, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]string{"u1": "Alice"}, nil
	}

	task := Task[string](func(s *Session) (string, error) {
		return LookupRequired(s, mgr, "users", "u1", fn, 10)
	})
	source := NewSliceSource([]Task[string]{task})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, source, 4), 1)

	if results[0].Err != nil || results[0].Value != "Alice" {
		t.Fatalf("want (Alice, nil), got (%q, %v)", results[0].Value, results[0].Err)
	}
	if calls != 1 {
		t.Fatalf("want exactly 1 bulk call, got %d", calls)
	}
}

// scenario 2: batch size boundary — every observed batch call is bounded by B.
func TestResolveBatchSizeBoundary(t *testing.T) {
	mgr := NewLookupManager()
	const batchSize = 3
	var mu sync.Mutex
	var batchSizes []int
	fn := func(keys []string) (map[string]string, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(keys))
		mu.Unlock()
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = k + "-value"
		}
		return out, nil
	}

	const n = 10
	tasks := make([]Task[string], n)
	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		tasks[i] = func(s *Session) (string, error) {
			return LookupRequired(s, mgr, "items", key, fn, batchSize)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, NewSliceSource(tasks), n), n)

	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("result %d: unexpected error: %v", i, r.Err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for _, size := range batchSizes {
		if size > batchSize {
			t.Fatalf("observed batch of size %d, want <= %d", size, batchSize)
		}
	}
}

// the channel yields results in strict source order even when an earlier
// task suspends on a batch and a later task never suspends at all.
func TestResolveYieldsInSourceOrder(t *testing.T) {
	mgr := NewLookupManager()
	fn := func(keys []string) (map[string]string, error) {
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = k
		}
		return out, nil
	}

	// task 0 suspends waiting on a batch of size 2; task 1 never looks
	// anything up and would otherwise finish first.
	slow := Task[string](func(s *Session) (string, error) {
		return LookupRequired(s, mgr, "order", "slow", fn, 2)
	})
	fast := Task[string](func(s *Session) (string, error) {
		return "fast", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch := Resolve(ctx, mgr, NewSliceSource([]Task[string]{slow, fast}), 2)

	r0 := <-ch
	if r0.Index != 0 {
		t.Fatalf("want index 0 yielded first, got %d", r0.Index)
	}
	r1 := <-ch
	if r1.Index != 1 {
		t.Fatalf("want index 1 yielded second, got %d", r1.Index)
	}
}

// scenario 3: two lookups against the same slot from one task still land in
// the same or a subsequent batch without deadlocking the driver.
func TestResolveDoubleLookupSameTask(t *testing.T) {
	mgr := NewLookupManager()
	fn := func(keys []string) (map[string]int, error) {
		out := make(map[string]int, len(keys))
		for _, k := range keys {
			out[k] = len(k)
		}
		return out, nil
	}

	task := Task[int](func(s *Session) (int, error) {
		a, err := LookupRequired(s, mgr, "lens", "aa", fn, 10)
		if err != nil {
			return 0, err
		}
		b, err := LookupRequired(s, mgr, "lens", "bbb", fn, 10)
		if err != nil {
			return 0, err
		}
		return a + b, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, NewSliceSource([]Task[int]{task}), 1), 1)

	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if results[0].Value != 5 {
		t.Fatalf("want 2+3=5, got %d", results[0].Value)
	}
}

// scenario 4: a bulk function error is surfaced to every awaiting task, not
// just the first.
func TestResolveBulkFunctionErrorSurfacesToAllAwaiters(t *testing.T) {
	mgr := NewLookupManager()
	sentinel := errors.New("datastore down")
	fn := func(keys []string) (map[string]string, error) {
		return nil, sentinel
	}

	tasks := make([]Task[string], 3)
	for i := range tasks {
		key := string(rune('a' + i))
		tasks[i] = func(s *Session) (string, error) {
			return LookupRequired(s, mgr, "broken", key, fn, 10)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, NewSliceSource(tasks), len(tasks)), len(tasks))

	for i, r := range results {
		if !errors.Is(r.Err, sentinel) {
			t.Fatalf("result %d: want sentinel error, got %v", i, r.Err)
		}
	}
}

// scenario 5: a missing key surfaces the manager's NotFoundErrorFactory.
func TestResolveKeyNotFoundUsesCustomFactory(t *testing.T) {
	mgr := NewLookupManager()
	custom := errors.New("no such widget")
	mgr.SetNotFoundErrorFactory(func(key any, typeTag string) error { return custom })

	fn := func(keys []string) (map[string]string, error) { return map[string]string{}, nil }
	task := Task[string](func(s *Session) (string, error) {
		return LookupRequired(s, mgr, "widgets", "missing", fn, 10)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, NewSliceSource([]Task[string]{task}), 1), 1)

	if !errors.Is(results[0].Err, custom) {
		t.Fatalf("want custom not-found error, got %v", results[0].Err)
	}
}

// scenario 6: LookupMulti with overlapping keysets across tasks still
// resolves each task's view correctly and hits the bulk function once.
func TestResolveMultiOverlappingKeysets(t *testing.T) {
	mgr := NewLookupManager()
	var calls int32
	fn := func(keys []string) (map[string]string, error) {
		atomic.AddInt32(&calls, 1)
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = k + "!"
		}
		return out, nil
	}

	taskA := Task[[]string](func(s *Session) ([]string, error) {
		return LookupMulti(s, mgr, "overlap", []string{"a", "b"}, fn, 10)
	})
	taskB := Task[[]string](func(s *Session) ([]string, error) {
		return LookupMulti(s, mgr, "overlap", []string{"b", "c"}, fn, 10)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := collectResults(t, Resolve(ctx, mgr, NewSliceSource([]Task[[]string]{taskA, taskB}), 2), 2)

	if results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("unexpected errors: %v, %v", results[0].Err, results[1].Err)
	}
	wantA := []string{"a!", "b!"}
	wantB := []string{"b!", "c!"}
	for i, want := range wantA {
		if results[0].Value[i] != want {
			t.Fatalf("task A: want %v, got %v", wantA, results[0].Value)
		}
	}
	for i, want := range wantB {
		if results[1].Value[i] != want {
			t.Fatalf("task B: want %v, got %v", wantB, results[1].Value)
		}
	}
	if calls != 1 {
		t.Fatalf("want exactly 1 bulk call across overlapping keysets, got %d", calls)
	}
}

// the audit sink is notified once per flush with the observed batch size.
func TestResolveNotifiesAuditSinkOnFlush(t *testing.T) {
	mgr := NewLookupManager()
	var sink recordingSink
	mgr.SetAuditSink(&sink)

	fn := func(keys []string) (map[string]string, error) {
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = k
		}
		return out, nil
	}
	task := Task[string](func(s *Session) (string, error) {
		return LookupRequired(s, mgr, "audited", "k", fn, 10)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	collectResults(t, Resolve(ctx, mgr, NewSliceSource([]Task[string]{task}), 1), 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.sizes) != 1 || sink.sizes[0] != 1 {
		t.Fatalf("want one flush of size 1, got %v", sink.sizes)
	}
}

type recordingSink struct {
	mu    sync.Mutex
	sizes []int
}

func (r *recordingSink) Publish(slotKey any, batchSize int) {
	r.mu.Lock()
	r.sizes = append(r.sizes, batchSize)
	r.mu.Unlock()
}
