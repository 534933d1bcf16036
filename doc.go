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

// Package batchloader coalesces many individual, concurrently outstanding
// lookups issued from straight-line caller code into a small number of bulk
// calls.
//
// A caller writes code as if it fetched one key at a time: it calls
// LookupRequired (or Optional, Multi, Collection) against a LookupManager
// and gets a value back. Under the hood, calls issued while a Resolve driver
// is running are buffered per bulk function and dispatched together once a
// batch fills up or the driver needs to make progress. The caller code never
// has to know batching happened.
//
// The moving pieces, leaf first: pendingPromise is a settle-once/await-many
// value holder; batchSlot buffers keys per bulk function and owns the
// promise those keys are waiting on; resolveQueue and immediateScopeStack
// back the LookupManager, which is the public façade; Resolve is the
// cooperative driver loop that ties a caller's stream of tasks to the
// manager's batching decisions and yields each Result in strict source
// order, holding a task's finished Result back until every earlier task
// has also yielded, since a task that never suspends can finish before one
// still waiting on a batch.
package batchloader
