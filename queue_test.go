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

import "testing"

func TestResolveQueueIsLIFO(t *testing.T) {
	var q resolveQueue
	var order []int

	push := func(n int) {
		q.push(enqueuedResolution{settle: func() int { order = append(order, n); return 0 }})
	}
	push(1)
	push(2)
	push(3)

	for {
		r, ok := q.pop()
		if !ok {
			break
		}
		r.settle()
	}

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("want %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("want %v, got %v", want, order)
		}
	}
}

func TestResolveQueueEmpty(t *testing.T) {
	var q resolveQueue
	if !q.empty() {
		t.Fatal("want a fresh queue to report empty")
	}
	q.push(enqueuedResolution{settle: func() int { return 0 }})
	if q.empty() {
		t.Fatal("want a queue with one entry to report non-empty")
	}
	if _, ok := q.pop(); !ok {
		t.Fatal("want pop to succeed on a non-empty queue")
	}
	if !q.empty() {
		t.Fatal("want the queue empty again after draining its only entry")
	}
	if _, ok := q.pop(); ok {
		t.Fatal("want pop on an empty queue to report ok=false")
	}
}
