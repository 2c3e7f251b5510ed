// Copyright 2024 The Riftsync Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics centralizes the Prometheus metric vectors shared by
// every sync-engine stage, so that a histogram named the same way always
// carries the same label set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the default histogram bucket layout for stage
// timings, tuned for local-storage and LAN-remote operations (sub-second
// to tens of seconds) rather than the wide-area latencies a webhook
// receiver would expect.
var LatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// TableLabels is the label set attached to every per-table metric.
var TableLabels = []string{"table"}

var (
	// FirstLoadBatches counts first-load pages processed per table.
	FirstLoadBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_first_load_batches_total",
		Help: "the number of first-load pages processed",
	}, TableLabels)
	FirstLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riftsync_first_load_batch_duration_seconds",
		Help:    "the time taken to process one first-load page",
		Buckets: LatencyBuckets,
	}, TableLabels)

	// PullRecords counts remote records observed per table during pull.
	PullRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_pull_records_total",
		Help: "the number of remote records observed during pull",
	}, TableLabels)
	PullConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_pull_conflicts_total",
		Help: "the number of field conflicts recorded during pull",
	}, TableLabels)
	PullDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riftsync_pull_cycle_duration_seconds",
		Help:    "the time taken to pull one table",
		Buckets: LatencyBuckets,
	}, TableLabels)

	// PushEntries counts pending-change entries drained per table.
	PushEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_push_entries_total",
		Help: "the number of pending changes pushed",
	}, TableLabels)
	PushErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_push_errors_total",
		Help: "the number of errors encountered while pushing pending changes",
	}, TableLabels)
	PushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riftsync_push_entry_duration_seconds",
		Help:    "the time taken to push one pending change",
		Buckets: LatencyBuckets,
	}, TableLabels)

	// SyncCycles counts completed sync_once invocations.
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_cycles_total",
		Help: "the number of completed sync cycles",
	}, []string{"result"})
	SyncCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riftsync_cycle_duration_seconds",
		Help:    "the time taken by one full pull+push cycle",
		Buckets: LatencyBuckets,
	})

	// StatePersistDuration times state-manager persistence calls.
	StatePersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riftsync_state_persist_duration_seconds",
		Help:    "the time taken to persist the sync state row",
		Buckets: LatencyBuckets,
	})

	// EnhancerMutations counts mutation events emitted per table.
	EnhancerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riftsync_enhancer_mutations_total",
		Help: "the number of mutation events emitted by the table enhancer",
	}, []string{"table", "type"})
)

// ObserveDuration starts a timer against o and returns a func that
// records the elapsed time when called, letting callers write
// `defer metrics.ObserveDuration(h)()` at the top of a stage. o accepts
// both a plain Histogram and a HistogramVec.WithLabelValues(...) result.
func ObserveDuration(o prometheus.Observer) func() {
	timer := prometheus.NewTimer(o)
	return func() { timer.ObserveDuration() }
}
