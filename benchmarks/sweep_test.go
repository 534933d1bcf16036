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

// Package benchmarks sweeps batch size (B) and window (W) in-process
// against the batching engine and reports call-count reduction and
// latency distribution, in place of driving a separate harness binary.
package benchmarks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"batchloader"
)

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	cp := make([]time.Duration, len(durations))
	copy(cp, durations)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	idx := (len(cp) - 1) * p / 100
	return cp[idx]
}

func humanInt(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := ""
	if strings.HasPrefix(s, "-") {
		neg = "-"
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i != 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return neg + string(out)
}

// sweepOnce runs n lookups (each its own task) against a manager configured
// with the given batch size and an initial driver window of w, and reports
// bulk call count plus p50/p99 per-task latency. The driver replaces the
// window with batchSize at the first flush, so w only governs the first
// fill round.
func sweepOnce(b *testing.B, n, batchSize, window int) (calls int64, p50, p99 time.Duration) {
	b.Helper()
	mgr := batchloader.NewLookupManager()
	fn := func(keys []string) (map[string]int, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(500 * time.Microsecond) // simulate a backend round trip
		out := make(map[string]int, len(keys))
		for _, k := range keys {
			out[k] = len(k)
		}
		return out, nil
	}

	latencies := make([]time.Duration, n)
	tasks := make([]batchloader.Task[int], n)
	for i := 0; i < n; i++ {
		idx := i
		key := fmt.Sprintf("key-%d", i%(batchSize*4))
		tasks[i] = func(s *batchloader.Session) (int, error) {
			start := time.Now()
			v, err := batchloader.LookupRequired(s, mgr, "sweep", key, fn, batchSize)
			latencies[idx] = time.Since(start)
			return v, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results := batchloader.Resolve(ctx, mgr, batchloader.NewSliceSource(tasks), window)
	for i := 0; i < n; i++ {
		r := <-results
		if r.Err != nil {
			b.Fatalf("unexpected error at result %d: %v", r.Index, r.Err)
		}
	}

	return atomic.LoadInt64(&calls), percentile(latencies, 50), percentile(latencies, 99)
}

// BenchmarkSweepBatchSize holds the initial window fixed and varies the
// preferred batch size, showing how coarser batching trades call-count for
// latency.
func BenchmarkSweepBatchSize(b *testing.B) {
	const n = 2000
	const window = 64
	for _, batchSize := range []int{1, 8, 32, 128, 512} {
		b.Run(fmt.Sprintf("batch=%d", batchSize), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				calls, p50, p99 := sweepOnce(b, n, batchSize, window)
				b.ReportMetric(float64(calls), "bulk_calls")
				b.ReportMetric(float64(n)/float64(calls), "tasks_per_call")
				b.Logf("batch=%d window=%d n=%s calls=%d p50=%s p99=%s",
					batchSize, window, humanInt(n), calls, p50, p99)
			}
		})
	}
}

// BenchmarkSweepWindow holds batch size fixed and varies the driver's
// initial window, which sizes only the first fill round: wider initial
// windows let more tasks accumulate into the slot before the first flush,
// after which every run continues with a window of batchSize.
func BenchmarkSweepWindow(b *testing.B) {
	const n = 2000
	const batchSize = 32
	for _, window := range []int{4, 16, 64, 256} {
		b.Run(fmt.Sprintf("window=%d", window), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				calls, p50, p99 := sweepOnce(b, n, batchSize, window)
				b.ReportMetric(float64(calls), "bulk_calls")
				b.ReportMetric(float64(n)/float64(calls), "tasks_per_call")
				b.Logf("batch=%d window=%d n=%s calls=%d p50=%s p99=%s",
					batchSize, window, humanInt(n), calls, p50, p99)
			}
		})
	}
}
