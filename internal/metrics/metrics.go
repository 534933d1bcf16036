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

// Package metrics exposes Prometheus instrumentation for a running batching
// engine: lookup latency and error rate, flush counts and batch sizes, keys
// enqueued/resolved, and immediate-scope lookups.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"batchloader"
)

// Recorder wraps a namespaced set of Prometheus collectors. Each call site
// (an HTTP handler, a flush, a batch function) reports through its methods;
// every method is a no-op on a nil *Recorder, so a disabled recorder can be
// passed as nil. Use NewRecorder to get one that records.
type Recorder struct {
	lookupLatency       *prometheus.HistogramVec
	lookupErrors        *prometheus.CounterVec
	batchSize           prometheus.Histogram
	batchesFlushedTotal prometheus.Counter
	keysEnqueuedTotal   prometheus.Counter
	keysResolvedTotal   prometheus.Counter
	immediateLookups    prometheus.Counter
}

// NewRecorder registers a fresh set of collectors under the given namespace
// and returns a Recorder bound to them. Calling NewRecorder twice with the
// same namespace panics (duplicate registration) — callers should keep a
// single long-lived Recorder per process.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Latency of a single caller-facing lookup, from request to resolution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		lookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_errors_total",
			Help:      "Total lookups that resolved with an error.",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Distribution of key counts per batch flush.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
		}),
		batchesFlushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Total number of batch flushes performed across all slots.",
		}),
		keysEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_enqueued_total",
			Help:      "Total number of keys enqueued onto a batch slot.",
		}),
		keysResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_resolved_total",
			Help:      "Total number of keys that received a resolved value.",
		}),
		immediateLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "immediate_lookups_total",
			Help:      "Total number of lookups served inside an immediate scope, bypassing batching.",
		}),
	}
	prometheus.MustRegister(
		r.lookupLatency, r.lookupErrors, r.batchSize, r.batchesFlushedTotal,
		r.keysEnqueuedTotal, r.keysResolvedTotal, r.immediateLookups,
	)
	return r
}

// ObserveLookup records the latency and outcome of one caller-facing lookup.
func (r *Recorder) ObserveLookup(d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.lookupErrors.WithLabelValues(outcome).Inc()
	}
	r.lookupLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveFlush records the size of one batch flush.
func (r *Recorder) ObserveFlush(batchSize int) {
	if r == nil {
		return
	}
	r.batchesFlushedTotal.Inc()
	r.batchSize.Observe(float64(batchSize))
}

// ObserveKeysEnqueued records n keys being added to a batch slot.
func (r *Recorder) ObserveKeysEnqueued(n int) {
	if r == nil {
		return
	}
	r.keysEnqueuedTotal.Add(float64(n))
}

// ObserveKeysResolved records n keys receiving a resolved value.
func (r *Recorder) ObserveKeysResolved(n int) {
	if r == nil {
		return
	}
	r.keysResolvedTotal.Add(float64(n))
}

// ObserveImmediateLookup records one lookup served inside an immediate scope.
func (r *Recorder) ObserveImmediateLookup() {
	if r == nil {
		return
	}
	r.immediateLookups.Inc()
}

// auditSink adapts a Recorder into a batchloader.AuditSink so every flush
// the driver performs is observed without the driver knowing about metrics.
type auditSink struct {
	recorder *Recorder
	next     batchloader.AuditSink
}

func (a *auditSink) Publish(slotKey any, batchSize int) {
	a.recorder.ObserveFlush(batchSize)
	if a.next != nil {
		a.next.Publish(slotKey, batchSize)
	}
}

// WrapAuditSink returns a batchloader.AuditSink that records flush batch
// sizes to recorder and then forwards the notification to next, if any.
// Pass a nil next to observe flushes without any other side effect.
func WrapAuditSink(recorder *Recorder, next batchloader.AuditSink) batchloader.AuditSink {
	return &auditSink{recorder: recorder, next: next}
}

// Handler serves the process's registered Prometheus collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
