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

// Package recovery implements the C11 recovery tick: it resets
// long-stuck FAILED loaders back to IDLE and forcibly fails RUNNING
// loaders whose owning replica died without releasing its lock.
package recovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signaldata/loaderengine/pkg/metrics"
)

// Store is the persistence seam the recovery tick drives.
type Store interface {
	ResetExpiredFailed(ctx context.Context, threshold time.Duration) (int, error)
	ResetHungRunning(ctx context.Context, hungThreshold time.Duration) (int, error)
}

// Recovery is the C11 contract surface, invoked once per recovery
// tick by pkg/scheduler.
type Recovery struct {
	Store           Store
	FailedThreshold time.Duration
	HungThreshold   time.Duration
	Logger          *logrus.Logger
}

func New(store Store, failedThreshold, hungThreshold time.Duration, logger *logrus.Logger) *Recovery {
	return &Recovery{Store: store, FailedThreshold: failedThreshold, HungThreshold: hungThreshold, Logger: logger}
}

// Run performs one recovery cycle: FAILED loaders past the recovery
// threshold are reset to IDLE first, then RUNNING loaders whose lock
// has gone stale are forced to FAILED so the next cycle can recover
// them in turn.
func (r *Recovery) Run(ctx context.Context) error {
	resetIdle, err := r.Store.ResetExpiredFailed(ctx, r.FailedThreshold)
	if err != nil {
		return err
	}
	if resetIdle > 0 {
		r.Logger.WithField("count", resetIdle).Info("reset expired FAILED loaders to IDLE")
		metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryActionFailedReset).Add(float64(resetIdle))
	}

	resetFailed, err := r.Store.ResetHungRunning(ctx, r.HungThreshold)
	if err != nil {
		return err
	}
	if resetFailed > 0 {
		r.Logger.WithField("count", resetFailed).Warn("reset hung RUNNING loaders to FAILED: execution timed out; replica dead")
		metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryActionRunningReset).Add(float64(resetFailed))
	}

	return nil
}
