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

// Package stream adapts a continuously-arriving stream of work (HTTP
// requests, a message queue consumer, anything that doesn't know its whole
// task list up front) into a batchloader.Source, so a long-lived Resolve
// driver can keep collapsing N+1 lookups as new keys arrive instead of
// needing them all at submission time.
package stream

import (
	"sync"

	"batchloader"
)

// Source is a bounded-capacity ingress channel wrapped as a
// batchloader.Source. Producers call Push or TryPush as work arrives; the
// driver reading via Next blocks until a task is available or the source is
// closed.
type Source[T any] struct {
	tasks     chan batchloader.Task[T]
	closeOnce sync.Once
}

// NewSource returns a Source with the given ingress buffer capacity. A
// buffer of 0 or less defaults to 4096, matching the bursty-arrival
// tolerance a production ingress channel typically wants.
func NewSource[T any](buffer int) *Source[T] {
	if buffer <= 0 {
		buffer = 4096
	}
	return &Source[T]{tasks: make(chan batchloader.Task[T], buffer)}
}

// Push enqueues a task, blocking if the ingress buffer is full.
func (s *Source[T]) Push(task batchloader.Task[T]) {
	s.tasks <- task
}

// TryPush enqueues a task without blocking. It returns false if the buffer
// is full, so a caller under backpressure can shed load instead of
// stalling.
func (s *Source[T]) TryPush(task batchloader.Task[T]) bool {
	select {
	case s.tasks <- task:
		return true
	default:
		return false
	}
}

// Close signals that no further tasks will be pushed. Next returns
// (nil, false) once every already-buffered task has been drained. Pushing
// after Close panics, same as sending on a closed channel.
func (s *Source[T]) Close() {
	s.closeOnce.Do(func() { close(s.tasks) })
}

// Next implements batchloader.Source.
func (s *Source[T]) Next() (batchloader.Task[T], bool) {
	task, ok := <-s.tasks
	return task, ok
}
