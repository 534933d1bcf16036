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

// loader-demo is an HTTP server that answers /lookup?key=... requests by
// feeding each request into a long-lived batching engine, so concurrent
// requests arriving within the same window collapse into one backend call
// instead of one call per request.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchloader"
	"batchloader/internal/backend"
	"batchloader/internal/logging"
	"batchloader/internal/metrics"
	"batchloader/plugin/stream"
)

var logger = logging.New("loader-demo")

func main() {
	var (
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		adapter    = flag.String("adapter", "mock", "lookup backend: mock|redis|postgres")
		auditKind  = flag.String("audit", "none", "flush audit sink: none|kafka")
		redisAddr  = flag.String("redis_addr", "", "Redis address (empty uses the logging fallback)")
		pgDSN      = flag.String("postgres_dsn", "", "Postgres DSN (required for -adapter=postgres)")
		kafkaTopic = flag.String("kafka_topic", "", "Kafka audit topic (empty uses the default)")
		batchSize  = flag.Int("batch_size", 50, "preferred batch size per flush")
		window     = flag.Int("window", 64, "max concurrent in-flight requests the driver serves at once, until the first flush resets it to batch_size")
		bufSize    = flag.Int("buffer", 4096, "bounded ingress buffer capacity")
		metricsOn  = flag.Bool("metrics", true, "expose Prometheus metrics on /metrics")
	)
	flag.Parse()

	opts := backend.Options{
		RedisAddr:   *redisAddr,
		PostgresDSN: *pgDSN,
		KafkaTopic:  *kafkaTopic,
	}
	lookup, err := backend.BuildLookup(*adapter, opts)
	if err != nil {
		logger.Fatalf("loader-demo: %v", err)
	}
	sink, err := backend.BuildAuditSink(*auditKind, opts)
	if err != nil {
		logger.Fatalf("loader-demo: %v", err)
	}

	mgr := batchloader.NewLookupManager()
	var recorder *metrics.Recorder
	if *metricsOn {
		recorder = metrics.NewRecorder("loader_demo")
		mgr.SetAuditSink(metrics.WrapAuditSink(recorder, sink))
	} else if sink != nil {
		mgr.SetAuditSink(sink)
	}

	source := stream.NewSource[struct{}](*bufSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for range batchloader.Resolve(ctx, mgr, source, *window) {
			// results are delivered to callers directly from inside each
			// task closure (see newLookupHandler); nothing to do here.
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", newLookupHandler(mgr, source, lookup, *batchSize, recorder))
	if *metricsOn {
		mux.Handle("/metrics", metrics.Handler())
	}

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("loader-demo: listening on %s (adapter=%s audit=%s batch_size=%d window=%d)",
			*addr, *adapter, *auditKind, *batchSize, *window)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("loader-demo: serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop // Block until a signal is received.

	logger.Println("loader-demo: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("loader-demo: shutdown: %v", err)
	}
	logger.Println("loader-demo: stopped.")
}

type lookupOutcome struct {
	value string
	err   error
}

func newLookupHandler(
	mgr *batchloader.LookupManager,
	source *stream.Source[struct{}],
	fn batchloader.BulkFunc[string, string],
	batchSize int,
	recorder *metrics.Recorder,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key query parameter", http.StatusBadRequest)
			return
		}

		start := time.Now()
		resCh := make(chan lookupOutcome, 1)
		task := batchloader.Task[struct{}](func(s *batchloader.Session) (struct{}, error) {
			v, err := batchloader.LookupOptional(s, mgr, "lookup-demo", key, fn, batchSize)
			resCh <- lookupOutcome{value: v, err: err}
			return struct{}{}, nil
		})

		if !source.TryPush(task) {
			http.Error(w, "server overloaded", http.StatusServiceUnavailable)
			return
		}
		if recorder != nil {
			recorder.ObserveKeysEnqueued(1)
		}

		select {
		case out := <-resCh:
			if recorder != nil {
				recorder.ObserveLookup(time.Since(start), out.err)
				if out.err == nil {
					recorder.ObserveKeysResolved(1)
				}
			}
			if out.err != nil {
				http.Error(w, out.err.Error(), http.StatusInternalServerError)
				return
			}
			if out.value == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(out.value))
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		case <-time.After(5 * time.Second):
			http.Error(w, "lookup timed out", http.StatusGatewayTimeout)
		}
	}
}
