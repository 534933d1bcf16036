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

import "sync"

type promiseState int

const (
	statePending promiseState = iota
	stateFulfilled
	stateFailed
)

// pendingPromise is a single-producer, multi-consumer, one-shot completion
// value. It is settled at most once (by the batch slot that armed it) and
// may be awaited by any number of goroutines.
//
// Settling is not required to be idempotent by callers — fulfill/fail panic
// if the promise was already settled, matching spec's "callers must not
// double-settle" contract rather than silently ignoring the second settle.
type pendingPromise[V any] struct {
	mu      sync.Mutex
	state   promiseState
	value   V
	err     error
	done    chan struct{}
	waiting int
}

func newPendingPromise[V any]() *pendingPromise[V] {
	return &pendingPromise[V]{done: make(chan struct{})}
}

// fulfill settles the promise with a value and returns the number of
// goroutines that were blocked in await at the moment of settling. The
// driver uses that count to know how many resumptions to wait out before it
// trusts the manager's slot state again.
func (p *pendingPromise[V]) fulfill(v V) int {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()
		panic("batchloader: promise settled twice")
	}
	p.state = stateFulfilled
	p.value = v
	n := p.waiting
	p.mu.Unlock()
	close(p.done)
	return n
}

// fail is fulfill's counterpart for the failure path.
func (p *pendingPromise[V]) fail(err error) int {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()
		panic("batchloader: promise settled twice")
	}
	p.state = stateFailed
	p.err = err
	n := p.waiting
	p.mu.Unlock()
	close(p.done)
	return n
}

// await blocks until the promise is settled and returns its value or error.
// If the promise is already settled, it returns on the spot without a
// channel receive — the synchronous inline resumption spec.md requires so a
// tail-attached continuation never needs a trip through the scheduler. If it
// is not yet settled, onSuspend (if non-nil) runs right before the call
// blocks, so callers can account for the suspension before control leaves
// this goroutine.
func (p *pendingPromise[V]) await(onSuspend func()) (V, error) {
	p.mu.Lock()
	if p.state != statePending {
		v, err := p.value, p.err
		p.mu.Unlock()
		return v, err
	}
	p.waiting++
	p.mu.Unlock()

	if onSuspend != nil {
		onSuspend()
	}
	<-p.done

	p.mu.Lock()
	v, err := p.value, p.err
	p.mu.Unlock()
	return v, err
}
