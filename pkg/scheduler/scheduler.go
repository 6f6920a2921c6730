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

// Package scheduler drives the three independent ticks that select and
// dispatch eligible loaders, recover stuck loaders, and reclaim stale
// execution locks.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/signaldata/loaderengine/pkg/metrics"
	"github.com/signaldata/loaderengine/pkg/models"
)

// CandidateStore lists loaders the dispatch tick may consider:
// enabled, approved, and IDLE or FAILED.
type CandidateStore interface {
	ListEligibleCandidates(ctx context.Context) ([]models.Loader, error)
}

// LockAcquirer is the execution lock seam the dispatch tick and the
// stale-lock tick drive.
type LockAcquirer interface {
	TryAcquire(ctx context.Context, loaderCode string, maxParallel int, replicaName string) (int64, bool, error)
	Release(ctx context.Context, lockID int64) error
	ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Executor runs one loader's extract-transform-load cycle.
type Executor interface {
	Execute(ctx context.Context, loader *models.Loader) *models.LoadHistory
}

// Recovery resets long-stuck loaders on its own tick (C11).
type Recovery interface {
	Run(ctx context.Context) error
}

// Config holds the scheduler's tunable periods and pool size.
type Config struct {
	DispatchPeriod    time.Duration
	RecoveryPeriod    time.Duration
	StaleLockPeriod   time.Duration
	StaleLockMaxAge   time.Duration
	RecoveryThreshold time.Duration
	WorkerPoolSize    int
}

// Scheduler is the C10 contract surface.
type Scheduler struct {
	Candidates  CandidateStore
	Lock        LockAcquirer
	Exec        Executor
	Recovery    Recovery
	ReplicaName string
	Config      Config
	Logger      *logrus.Logger

	Now func() time.Time

	slots chan struct{}
}

func New(candidates CandidateStore, lock LockAcquirer, exec Executor, recovery Recovery, replicaName string, cfg Config, logger *logrus.Logger) *Scheduler {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 16
	}
	return &Scheduler{
		Candidates:  candidates,
		Lock:        lock,
		Exec:        exec,
		Recovery:    recovery,
		ReplicaName: replicaName,
		Config:      cfg,
		Logger:      logger,
		Now:         time.Now,
		slots:       make(chan struct{}, cfg.WorkerPoolSize),
	}
}

// Run starts the three independent ticks and blocks until ctx is
// cancelled or one of them returns a terminal error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.tickLoop(ctx, s.Config.DispatchPeriod, s.dispatchTick) })
	g.Go(func() error { return s.tickLoop(ctx, s.Config.RecoveryPeriod, s.recoveryTick) })
	g.Go(func() error { return s.tickLoop(ctx, s.Config.StaleLockPeriod, s.staleLockTick) })

	return g.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context, period time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) staleLockTick(ctx context.Context) {
	n, err := s.Lock.ReclaimStale(ctx, s.Config.StaleLockMaxAge)
	if err != nil {
		s.Logger.WithError(err).Error("stale lock reclamation failed")
		return
	}
	if n > 0 {
		s.Logger.WithField("count", n).Info("reclaimed stale execution locks")
		metrics.RecoveryActionsTotal.WithLabelValues(metrics.RecoveryActionStaleLockReclaim).Add(float64(n))
	}
}

func (s *Scheduler) recoveryTick(ctx context.Context) {
	if s.Recovery == nil {
		return
	}
	if err := s.Recovery.Run(ctx); err != nil {
		s.Logger.WithError(err).Error("failure recovery tick failed")
	}
}

func (s *Scheduler) dispatchTick(ctx context.Context) {
	metrics.DispatchTicksTotal.Inc()
	now := s.Now()
	deadline := now.Add(s.Config.DispatchPeriod)

	candidates, err := s.Candidates.ListEligibleCandidates(ctx)
	if err != nil {
		s.Logger.WithError(err).Error("failed to list eligible loader candidates")
		return
	}
	metrics.CandidatesTotal.Add(float64(len(candidates)))

	ordered := orderCandidates(filterReady(candidates, now, s.Config.RecoveryThreshold), now)

	for i := range ordered {
		loader := ordered[i]
		mustRunNow := isMustRunNow(loader, now)

		if mustRunNow {
			select {
			case s.slots <- struct{}{}:
			case <-time.After(time.Until(deadline)):
				s.Logger.WithField("loader_code", loader.LoaderCode).
					Warn("must-run-now loader could not obtain a worker slot within the tick budget")
				continue
			case <-ctx.Done():
				return
			}
		} else {
			select {
			case s.slots <- struct{}{}:
			default:
				continue
			}
		}

		lockID, acquired, err := s.Lock.TryAcquire(ctx, loader.LoaderCode, loader.MaxParallelExecutions, s.ReplicaName)
		if err != nil {
			s.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("lock acquisition failed")
			<-s.slots
			continue
		}
		if !acquired {
			metrics.LockAcquireTotal.WithLabelValues(metrics.LockResultDenied).Inc()
			<-s.slots
			continue
		}
		metrics.LockAcquireTotal.WithLabelValues(metrics.LockResultAcquired).Inc()

		go func(l models.Loader, lockID int64) {
			defer func() { <-s.slots }()
			defer func() {
				if err := s.Lock.Release(context.Background(), lockID); err != nil {
					s.Logger.WithError(err).WithField("loader_code", l.LoaderCode).Error("failed to release execution lock")
				}
			}()
			s.Exec.Execute(ctx, &l)
		}(loader, lockID)
	}
}

// filterReady keeps candidates whose min-interval has elapsed (or that
// have never run) and, for a FAILED loader, whose failedSince is
// already beyond the recovery threshold — otherwise the scheduler
// leaves it alone until the recovery tick flips it to IDLE.
func filterReady(candidates []models.Loader, now time.Time, recoveryThreshold time.Duration) []models.Loader {
	ready := make([]models.Loader, 0, len(candidates))
	for _, l := range candidates {
		if l.LoadStatus == models.LoadStatusFailed {
			if l.FailedSince == nil || now.Sub(*l.FailedSince) < recoveryThreshold {
				continue
			}
		}
		if l.LastLoadTimestamp != nil && now.Sub(*l.LastLoadTimestamp) < time.Duration(l.MinIntervalSeconds)*time.Second {
			continue
		}
		ready = append(ready, l)
	}
	return ready
}

func isMustRunNow(l models.Loader, now time.Time) bool {
	if l.MaxIntervalSeconds <= 0 || l.LastLoadTimestamp == nil {
		return false
	}
	return now.Sub(*l.LastLoadTimestamp) >= time.Duration(l.MaxIntervalSeconds)*time.Second
}

func statusPriority(status models.LoadStatus) int {
	if status == models.LoadStatusIdle {
		return 0
	}
	return 1
}

// orderCandidates sorts by (mustRunNow first, statusPriority,
// lastLoadTimestamp ascending with nil first), per spec.md §4.9 steps
// 3 and 5.
func orderCandidates(candidates []models.Loader, now time.Time) []models.Loader {
	ordered := make([]models.Loader, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		aMust, bMust := isMustRunNow(a, now), isMustRunNow(b, now)
		if aMust != bMust {
			return aMust
		}
		if statusPriority(a.LoadStatus) != statusPriority(b.LoadStatus) {
			return statusPriority(a.LoadStatus) < statusPriority(b.LoadStatus)
		}
		if a.LastLoadTimestamp == nil {
			return b.LastLoadTimestamp != nil
		}
		if b.LastLoadTimestamp == nil {
			return false
		}
		return a.LastLoadTimestamp.Before(*b.LastLoadTimestamp)
	})
	return ordered
}
