/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics defines the observability surface of SPEC_FULL.md
// §6.5: the scheduler (including lock acquisition results), executor and
// recovery tick each record into these collectors, served from a single /metrics
// endpoint alongside the admin boundary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_dispatch_ticks_total",
		Help: "number of scheduler dispatch ticks that have run",
	})

	CandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_candidates_total",
		Help: "number of eligible loader candidates seen across all dispatch ticks",
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loader_executions_total",
		Help: "number of load executions, partitioned by terminal status",
	}, []string{"status"})

	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_execution_duration_seconds",
		Help:    "wall-clock duration of a single load execution",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loader_lock_acquire_total",
		Help: "number of execution lock acquisition attempts, partitioned by result",
	}, []string{"result"})

	RecoveryActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loader_recovery_actions_total",
		Help: "number of recovery actions taken, partitioned by action",
	}, []string{"action"})

	RecordsLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_records_loaded_total",
		Help: "total number of rows read from source databases across all loaders",
	})

	RecordsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_records_ingested_total",
		Help: "total number of signal rows persisted across all loaders",
	})

	// ConsecutiveZeroRuns surfaces Open Question 1 (§9) without acting
	// on it: an operator can alert on a loader whose source keeps
	// returning no rows, but nothing in this module pauses it
	// automatically.
	ConsecutiveZeroRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loader_consecutive_zero_runs",
		Help: "consecutive execution cycles that ingested zero signal rows, per loader",
	}, []string{"loader_code"})
)

// Recovery action label values for RecoveryActionsTotal.
const (
	RecoveryActionFailedReset      = "failed_reset"
	RecoveryActionRunningReset     = "running_reset"
	RecoveryActionStaleLockReclaim = "stale_lock_reclaimed"
)

// Lock acquire result label values for LockAcquireTotal.
const (
	LockResultAcquired = "acquired"
	LockResultDenied   = "denied"
)
