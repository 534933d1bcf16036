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

// Package batchloader: this file is the public façade — LookupManager and
// the four lookup operations. Typed access to a heterogeneous slot registry
// happens only here, on the hot path; everywhere else slots are addressed
// through the anySlot capability interface.
package batchloader

import (
	"fmt"
	"sync"
)

// LookupManager registers one batch slot per distinct bulk-function
// identity and exposes the lookup operations callers issue against it. A
// manager outlives every lookup issued through it and is not safe for
// concurrent mutation from outside a single Resolve driver run (see
// driver.go) plus whatever immediate-mode calls happen alongside it.
type LookupManager struct {
	mu       sync.Mutex
	slots    map[any]anySlot
	order    []any
	queue    resolveQueue
	scopes   immediateScopeStack
	notFound NotFoundErrorFactory
	audit    AuditSink
}

// AuditSink observes every batch flush, successful or not. Publish must not
// block the caller for long — it runs inline on the goroutine that decided
// to flush, whether that is a lookup crossing its threshold or the driver
// flushing the fullest slot to make progress.
type AuditSink interface {
	Publish(slotKey any, batchSize int)
}

// SetAuditSink wires an AuditSink that is notified of every flush this
// manager performs. Passing nil disables auditing.
func (m *LookupManager) SetAuditSink(a AuditSink) {
	m.mu.Lock()
	m.audit = a
	m.mu.Unlock()
}

func (m *LookupManager) notifyFlush(slotKey any, batchSize int) {
	m.mu.Lock()
	a := m.audit
	m.mu.Unlock()
	if a != nil {
		a.Publish(slotKey, batchSize)
	}
}

// NewLookupManager returns an empty manager ready for lookups.
func NewLookupManager() *LookupManager {
	return &LookupManager{
		slots:    make(map[any]anySlot),
		notFound: defaultNotFoundError,
	}
}

// SetNotFoundErrorFactory overrides the error LookupRequired returns for a
// missing key. Passing nil is a no-op.
func (m *LookupManager) SetNotFoundErrorFactory(f NotFoundErrorFactory) {
	if f == nil {
		return
	}
	m.mu.Lock()
	m.notFound = f
	m.mu.Unlock()
}

func (m *LookupManager) notFoundErr(key any, typeTag string) error {
	m.mu.Lock()
	f := m.notFound
	m.mu.Unlock()
	return f(key, typeTag)
}

// BeginImmediateScope pushes a new immediate-mode scope. While any scope
// opened this way is outstanding, every lookup issued against m runs
// synchronously against its bulk function instead of being buffered.
func (m *LookupManager) BeginImmediateScope() *ImmediateScope {
	return m.scopes.begin(m)
}

func (m *LookupManager) immediateMode() bool {
	return m.scopes.active()
}

// SlotCount reports how many distinct bulk-function slots are registered.
// Exposed mainly for tests asserting that immediate-mode lookups never
// register a slot (spec.md §8, scenario 8).
func (m *LookupManager) SlotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// getOrCreateSlot returns the existing slot registered under slotKey, or
// registers a new one built from fn/batchSize. If a slot already exists for
// slotKey, its original batch size and bulk function win and the arguments
// passed here are ignored — this matches the source's documented-as-is
// behavior (spec.md §9).
func getOrCreateSlot[K comparable, V any](m *LookupManager, slotKey any, batchSize int, fn BulkFunc[K, V]) *batchSlot[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.slots[slotKey]; ok {
		return existing.(*batchSlot[K, V])
	}
	s := newBatchSlot(fn, batchSize)
	m.slots[slotKey] = s
	m.order = append(m.order, slotKey)
	return s
}

// pushIfFlushed queues resolution and notifies the audit sink when enqueue
// reported a threshold flush (flushed > 0); a no-op otherwise.
func (m *LookupManager) pushIfFlushed(slotKey any, resolution enqueuedResolution, flushed int) {
	if flushed <= 0 {
		return
	}
	m.queue.push(resolution)
	m.notifyFlush(slotKey, flushed)
}

// fullestSlot returns the registered slot key and slot with the largest
// pending key count, breaking ties by registration order. ok is false if no
// slot has any buffered keys.
func (m *LookupManager) fullestSlot() (slotKey any, slot anySlot, ok bool) {
	m.mu.Lock()
	order := append([]any(nil), m.order...)
	slots := m.slots
	m.mu.Unlock()

	best := 0
	for _, key := range order {
		s := slots[key]
		if c := s.pendingCount(); c > best {
			best = c
			slotKey = key
			slot = s
			ok = true
		}
	}
	return slotKey, slot, ok
}

// flushFullest flushes slot (identified by slotKey), notifies the audit
// sink, and queues the resulting resolution for the driver to settle.
func (m *LookupManager) flushFullest(slotKey any, slot anySlot) {
	n := slot.pendingCount()
	m.queue.push(slot.flush())
	m.notifyFlush(slotKey, n)
}

// maxBatchSize returns the largest preferred batch size across registered
// slots, or 0 if none are registered.
func (m *LookupManager) maxBatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, key := range m.order {
		if s := m.slots[key].size(); s > max {
			max = s
		}
	}
	return max
}

// awaitPromise blocks the calling goroutine until p settles. When s is
// non-nil (the normal case: a lookup issued from within a Task passed to
// Resolve), it reports the suspension to the driver so Resolve's quiescence
// bookkeeping stays accurate.
func awaitPromise[V any](p *pendingPromise[V], s *Session) (V, error) {
	var onSuspend func()
	if s != nil {
		onSuspend = s.reportSuspend
	}
	return p.await(onSuspend)
}

// LookupRequired fetches a single key and fails with a not-found error
// (shaped by the manager's NotFoundErrorFactory) if the bulk function's
// result does not contain it.
//
// slotKey identifies the batch slot: all calls sharing the same slotKey
// share one buffer and one bulk function, so pass a stable value — a
// package-level sentinel, the bulk function's name, or the function value
// itself if it is never a closure that changes identity across calls.
func LookupRequired[K comparable, V any](s *Session, mgr *LookupManager, slotKey any, key K, fn BulkFunc[K, V], batchSize int) (V, error) {
	var zero V
	if mgr.immediateMode() {
		result, err := invokeBulk(fn, []K{key})
		if err != nil {
			return zero, err
		}
		if v, ok := result[key]; ok {
			return v, nil
		}
		return zero, mgr.notFoundErr(key, typeTagOf[V]())
	}

	slot := getOrCreateSlot(mgr, slotKey, batchSize, fn)
	promise, resolution, flushed := slot.enqueue(key)
	mgr.pushIfFlushed(slotKey, resolution, flushed)

	result, err := awaitPromise(promise, s)
	if err != nil {
		return zero, err
	}
	if v, ok := result[key]; ok {
		return v, nil
	}
	return zero, mgr.notFoundErr(key, typeTagOf[V]())
}

// LookupOptional is LookupRequired without the failure: a missing key
// yields the zero value of V.
func LookupOptional[K comparable, V any](s *Session, mgr *LookupManager, slotKey any, key K, fn BulkFunc[K, V], batchSize int) (V, error) {
	var zero V
	if mgr.immediateMode() {
		result, err := invokeBulk(fn, []K{key})
		if err != nil {
			return zero, err
		}
		return result[key], nil
	}

	slot := getOrCreateSlot(mgr, slotKey, batchSize, fn)
	promise, resolution, flushed := slot.enqueue(key)
	mgr.pushIfFlushed(slotKey, resolution, flushed)

	result, err := awaitPromise(promise, s)
	if err != nil {
		return zero, err
	}
	return result[key], nil
}

// LookupMulti fetches several keys against one bulk function. Duplicate
// keys are preserved and re-enqueued verbatim; keys absent from the bulk
// function's result are silently skipped rather than failing the call.
func LookupMulti[K comparable, V any](s *Session, mgr *LookupManager, slotKey any, keys []K, fn BulkFunc[K, V], batchSize int) ([]V, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if mgr.immediateMode() {
		result, err := invokeBulk(fn, keys)
		if err != nil {
			return nil, err
		}
		return selectInOrder(keys, result), nil
	}

	slot := getOrCreateSlot(mgr, slotKey, batchSize, fn)
	merged, err := enqueueAllAndAwait(mgr, slotKey, slot, keys, s)
	if err != nil {
		return nil, err
	}
	return selectInOrder(keys, merged), nil
}

// LookupCollection fetches the items for several keys from a bulk function
// that returns a flat list; the engine groups the list by keySelector. The
// result is the concatenation of each requested key's items, in
// requested-key order; a key with no matches contributes nothing. Pass a
// single-element slice to look up one key's collection.
func LookupCollection[K comparable, V any](s *Session, mgr *LookupManager, slotKey any, keys []K, keySelector func(V) K, fn CollectionFunc[K, V], batchSize int) ([]V, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if mgr.immediateMode() {
		items, err := invokeCollection(fn, keys)
		if err != nil {
			return nil, err
		}
		grouped := make(map[K][]V, len(items))
		for _, item := range items {
			k := keySelector(item)
			grouped[k] = append(grouped[k], item)
		}
		return flattenInOrder(keys, grouped), nil
	}

	wrapped := groupingBulkFunc(fn, keySelector)
	slot := getOrCreateSlot[K, []V](mgr, slotKey, batchSize, wrapped)
	merged, err := enqueueAllAndAwait(mgr, slotKey, slot, keys, s)
	if err != nil {
		return nil, err
	}
	return flattenInOrder(keys, merged), nil
}

// enqueueAllAndAwait deposits every key into slot, checking the batch-size
// threshold after each one (so a single lookup_multi/lookup_collection call
// carrying more keys than B cannot itself produce an oversized batch), then
// awaits every distinct promise its keys ended up on and merges their
// result maps.
func enqueueAllAndAwait[K comparable, V any](mgr *LookupManager, slotKey any, slot *batchSlot[K, V], keys []K, s *Session) (map[K]V, error) {
	var promises []*pendingPromise[map[K]V]
	var last *pendingPromise[map[K]V]
	for _, k := range keys {
		p, resolution, flushed := slot.enqueue(k)
		if p != last {
			promises = append(promises, p)
			last = p
		}
		mgr.pushIfFlushed(slotKey, resolution, flushed)
	}

	merged := make(map[K]V)
	for _, p := range promises {
		result, err := awaitPromise(p, s)
		if err != nil {
			return nil, err
		}
		for k, v := range result {
			merged[k] = v
		}
	}
	return merged, nil
}

func selectInOrder[K comparable, V any](keys []K, result map[K]V) []V {
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := result[k]; ok {
			out = append(out, v)
		}
	}
	return out
}

func flattenInOrder[K comparable, V any](keys []K, grouped map[K][]V) []V {
	var out []V
	for _, k := range keys {
		out = append(out, grouped[k]...)
	}
	return out
}

func invokeCollection[K comparable, V any](fn CollectionFunc[K, V], keys []K) (items []V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBulkFunctionFailure, r)
		}
	}()
	items, err = fn(keys)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBulkFunctionFailure, err)
	}
	return items, err
}
