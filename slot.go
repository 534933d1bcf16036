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
	"fmt"
	"sync"
)

// BulkFunc is a caller-supplied bulk lookup: given the keys queued against a
// batch slot, it returns whatever values it found, keyed by the request key.
// Keys absent from the result map are treated as not-found by the lookup
// that requested them. The core never interprets the contents of V.
type BulkFunc[K comparable, V any] func(keys []K) (map[K]V, error)

// CollectionFunc is the flat-list counterpart used by LookupCollection: it
// returns every matching item across all requested keys, and the engine
// groups the items back into a per-key list using the caller's key
// selector.
type CollectionFunc[K comparable, V any] func(keys []K) ([]V, error)

// anySlot is the capability set the manager and driver need from a batch
// slot without knowing its K, V. Typed access only happens inside the
// already-typed lookup functions in manager.go.
type anySlot interface {
	pendingCount() int
	size() int
	flush() enqueuedResolution
}

// batchSlot is the per-bulk-function buffer: queued keys plus the promise
// every caller currently waiting on this slot shares.
type batchSlot[K comparable, V any] struct {
	mu        sync.Mutex
	keys      []K
	promise   *pendingPromise[map[K]V]
	batchSize int
	fn        BulkFunc[K, V]
}

func newBatchSlot[K comparable, V any](fn BulkFunc[K, V], batchSize int) *batchSlot[K, V] {
	return &batchSlot[K, V]{fn: fn, batchSize: batchSize, promise: newPendingPromise[map[K]V]()}
}

// enqueue appends k to the buffer, preserving duplicates verbatim, and
// returns the promise k is now waiting on. If k's arrival reaches the
// slot's preferred batch size, enqueue also captures that batch and builds
// its resolution right here, under the same lock acquisition that did the
// append — flushed reports the captured batch's size (0 if none). Checking
// the threshold in a separate lock acquisition from the append leaves a
// window where a concurrent enqueue lands its key in the batch before the
// flush captures it, so an observed batch can exceed the preferred size;
// folding both into one critical section closes that gap.
func (s *batchSlot[K, V]) enqueue(k K) (promise *pendingPromise[map[K]V], resolution enqueuedResolution, flushed int) {
	s.mu.Lock()
	s.keys = append(s.keys, k)
	promise = s.promise
	var keys []K
	var flushedPromise *pendingPromise[map[K]V]
	if s.batchSize > 0 && len(s.keys) >= s.batchSize {
		keys = s.keys
		flushedPromise = s.promise
		s.keys = nil
		s.promise = newPendingPromise[map[K]V]()
		flushed = len(keys)
	}
	s.mu.Unlock()

	if flushed > 0 {
		resolution = s.buildResolution(keys, flushedPromise)
	}
	return promise, resolution, flushed
}

func (s *batchSlot[K, V]) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *batchSlot[K, V]) size() int { return s.batchSize }

// flush captures the current keys and promise, installs fresh empties so
// newly arriving keys start a new batch, and invokes the bulk function
// outside the lock. A bulk function failure — panic or error — never
// escapes flush; it is folded into the captured promise's settlement. This
// closes the gap spec.md §9 flags in the source: an exception during flush
// there propagates to the driver and orphans every awaiter on that promise.
func (s *batchSlot[K, V]) flush() enqueuedResolution {
	s.mu.Lock()
	keys := s.keys
	promise := s.promise
	s.keys = nil
	s.promise = newPendingPromise[map[K]V]()
	s.mu.Unlock()

	return s.buildResolution(keys, promise)
}

// buildResolution invokes the bulk function against keys outside any lock
// and wraps the outcome in a resolution that settles promise once the
// driver applies it.
func (s *batchSlot[K, V]) buildResolution(keys []K, promise *pendingPromise[map[K]V]) enqueuedResolution {
	result, err := invokeBulk(s.fn, keys)
	return enqueuedResolution{
		settle: func() int {
			if err != nil {
				return promise.fail(err)
			}
			return promise.fulfill(result)
		},
	}
}

// invokeBulk runs a bulk function and turns both panics and returned errors
// into ErrBulkFunctionFailure, so the caller never has to guard against a
// caller-supplied callback unwinding the driver's goroutine.
func invokeBulk[K comparable, V any](fn BulkFunc[K, V], keys []K) (result map[K]V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBulkFunctionFailure, r)
		}
	}()
	result, err = fn(keys)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBulkFunctionFailure, err)
	}
	return result, err
}

// groupingBulkFunc adapts a flat-list CollectionFunc into the BulkFunc shape
// a batchSlot understands, by grouping the raw results with keySelector.
// This is the "thin shim" spec.md describes: a Collection slot is really a
// Scalar slot over []V, fed through this adapter.
func groupingBulkFunc[K comparable, V any](raw CollectionFunc[K, V], keySelector func(V) K) BulkFunc[K, []V] {
	return func(keys []K) (map[K][]V, error) {
		items, err := raw(keys)
		if err != nil {
			return nil, err
		}
		grouped := make(map[K][]V, len(keys))
		for _, item := range items {
			k := keySelector(item)
			grouped[k] = append(grouped[k], item)
		}
		return grouped, nil
	}
}
