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

import "context"

// Task is a unit of work submitted to Resolve. It receives the Session it
// is running under so any lookups it issues (via LookupRequired and
// friends) are attributed to this run's quiescence bookkeeping.
type Task[T any] func(s *Session) (T, error)

// Source feeds tasks to a driver one at a time. Next returns false once
// exhausted; it is never called again afterward.
type Source[T any] interface {
	Next() (Task[T], bool)
}

// sliceSource is the Source backing NewSliceSource.
type sliceSource[T any] struct {
	tasks []Task[T]
	pos   int
}

// NewSliceSource wraps a fixed slice of tasks as a Source, handing them out
// in order. It is the common case: most callers know their whole task list
// up front.
func NewSliceSource[T any](tasks []Task[T]) Source[T] {
	return &sliceSource[T]{tasks: tasks}
}

func (s *sliceSource[T]) Next() (Task[T], bool) {
	if s.pos >= len(s.tasks) {
		return nil, false
	}
	t := s.tasks[s.pos]
	s.pos++
	return t, true
}

// Result is one Task's outcome, tagged with its position in source order.
// The driver uses Index internally to hold a finished task's Result until
// every earlier task has also yielded, so Resolve's channel delivers results
// in source order even though tasks complete in whatever order their
// lookups settle.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Session is the handle a running Task uses to report that it has
// suspended on a lookup. Callers never construct one directly; Resolve
// hands one to every Task it runs.
type Session struct {
	stepDone chan struct{}
}

// reportSuspend tells the driver this goroutine has reached a stable point
// (blocked awaiting an unsettled promise) and is no longer doing CPU work.
// The driver counts these to know when it is safe to inspect manager state
// again — see runDriver.
func (s *Session) reportSuspend() {
	s.stepDone <- struct{}{}
}

// Resolve runs every task source produces against mgr, buffering their
// lookups into batch slots and flushing the fullest slot whenever no task
// can otherwise make progress. window bounds how many tasks run
// concurrently until the first flush; a window of 0 or less is treated as
// 1. At the first flush the window is replaced by the largest preferred
// batch size registered on mgr, if that is greater than zero.
//
// Results arrive on the returned channel in strict source order: task n's
// Result is sent before task n+1's, even though tasks can finish out of
// order underneath (a task that never suspends can finish before one still
// waiting on a batch). The channel is closed once every task has completed
// or ctx is done.
func Resolve[T any](ctx context.Context, mgr *LookupManager, source Source[T], window int) <-chan Result[T] {
	if window <= 0 {
		window = 1
	}
	out := make(chan Result[T])
	go runDriver(ctx, mgr, source, window, out)
	return out
}

// runDriver implements the fill / drain / flush-fullest-slot / yield cycle:
//
//  1. Fill — launch tasks from source until window concurrent tasks are
//     running or source is exhausted, then wait for every newly launched
//     task to reach its first stable point (suspend or finish). After the
//     first observable flush, window is reset to the max preferred batch
//     size across every registered slot (left unchanged if that max is
//     zero) — a caller-supplied window is a startup guess; once a slot has
//     actually flushed, its own preferred size is the better bound.
//  2. If a threshold-triggered flush is already queued (pushed eagerly by
//     batchSlot.enqueue while a task was enqueueing keys), settle it and
//     wait out its waiters' resumptions.
//  3. Otherwise, if some slot holds buffered keys, flush its fullest one
//     and loop back to settle it next iteration.
//  4. Otherwise, if nothing is in flight and source is exhausted, the run
//     is done.
//
// Each settle and each fill round is followed by draining exactly as many
// stepDone signals as goroutines it set in motion, which is what lets the
// driver treat manager state as a stable snapshot between steps without
// forcing literal single-threaded execution.
//
// Tasks can finish in any order underneath, so completed results are held in
// pending, keyed by Index, until they can be yielded head-of-line: emitReady
// only sends once nextYield's entry has arrived, which is what gives the
// public channel its strict source-order guarantee.
func runDriver[T any](ctx context.Context, mgr *LookupManager, source Source[T], window int, out chan<- Result[T]) {
	defer close(out)

	session := &Session{stepDone: make(chan struct{})}
	results := make(chan Result[T], window)

	inFlight := 0
	exhausted := false
	nextIndex := 0

	pending := make(map[int]Result[T])
	nextYield := 0

	windowReset := false
	resetWindowOnFirstFlush := func() {
		if windowReset {
			return
		}
		windowReset = true
		if max := mgr.maxBatchSize(); max > 0 {
			window = max
		}
	}

	// awaitSignals also collects finished results while it waits, since the
	// window can grow past results' buffer once it is reset to the max batch
	// size and a finishing task sends its Result before its stepDone signal.
	awaitSignals := func(n int) {
		for i := 0; i < n; {
			select {
			case <-session.stepDone:
				i++
			case r := <-results:
				inFlight--
				pending[r.Index] = r
			}
		}
	}

	emitReady := func() {
		for {
			r, ok := pending[nextYield]
			if !ok {
				return
			}
			select {
			case out <- r:
				delete(pending, nextYield)
				nextYield++
			case <-ctx.Done():
				return
			}
		}
	}

	drain := func() {
		for {
			select {
			case r := <-results:
				inFlight--
				pending[r.Index] = r
			default:
				emitReady()
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Next blocks until a task is available or the source is exhausted.
		// For a finite Source (NewSliceSource) this never stalls; a live
		// Source (plugin/stream) can delay a pending flush until either the
		// window fills or a new task arrives. Pair streaming sources with a
		// producer that keeps pushing, or a small window, to bound that
		// delay.
		launched := 0
		for !exhausted && inFlight < window {
			task, ok := source.Next()
			if !ok {
				exhausted = true
				break
			}
			idx := nextIndex
			nextIndex++
			inFlight++
			launched++
			go runTask(idx, task, session, results)
		}
		if launched > 0 {
			awaitSignals(launched)
			drain()
		}

		if inFlight == 0 && exhausted {
			return
		}

		if r, ok := mgr.queue.pop(); ok {
			resetWindowOnFirstFlush()
			n := r.settle()
			awaitSignals(n)
			drain()
			continue
		}

		if slotKey, slot, ok := mgr.fullestSlot(); ok {
			resetWindowOnFirstFlush()
			mgr.flushFullest(slotKey, slot)
			continue
		}

		if inFlight == 0 {
			if exhausted {
				return
			}
			continue
		}
	}
}

// runTask executes a single task to completion and reports it both as a
// result and as a stepDone signal, so the driver's launch-count bookkeeping
// stays accurate whether the task ever suspends or returns immediately.
func runTask[T any](idx int, task Task[T], s *Session, results chan<- Result[T]) {
	v, err := task(s)
	results <- Result[T]{Index: idx, Value: v, Err: err}
	s.stepDone <- struct{}{}
}
