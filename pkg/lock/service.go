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

// Package lock implements per-loader mutual exclusion across replicas
// using persisted lease records, including stale-lock reclaiming.
package lock

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the persistence seam the lock Service drives. A correct
// implementation realises TryAcquire as a single serialisable unit (a
// transaction holding a row-level guard on loaderCode spanning the
// held-count check and the insert) so that no two committers can both
// observe held < maxParallel and insert a lease.
type Store interface {
	// TryAcquire attempts to acquire one of maxParallel concurrent
	// leases for loaderCode on behalf of replicaName. Returns
	// acquired=false (not an error) when the limit is already reached.
	TryAcquire(ctx context.Context, loaderCode string, maxParallel int, replicaName string) (lockID int64, acquired bool, err error)

	// Release marks lockID's lease released.
	Release(ctx context.Context, lockID int64) error

	// ReclaimStale marks every unreleased lease older than maxAge as
	// released and returns how many it reclaimed.
	ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Service is the lock Service described by the execution lock contract.
type Service struct {
	store  Store
	logger *logrus.Logger
}

func NewService(store Store, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// TryAcquire is non-blocking and returns immediately with
// acquired=false when the loader is already at its concurrency limit —
// that is an expected outcome (LOCK_UNAVAILABLE), not an error.
func (s *Service) TryAcquire(ctx context.Context, loaderCode string, maxParallel int, replicaName string) (int64, bool, error) {
	lockID, acquired, err := s.store.TryAcquire(ctx, loaderCode, maxParallel, replicaName)
	if err != nil {
		s.logger.WithError(err).WithField("loaderCode", loaderCode).Error("lock acquisition failed")
		return 0, false, err
	}
	if !acquired {
		s.logger.WithField("loaderCode", loaderCode).Debug("lock unavailable, loader already at concurrency limit")
	}
	return lockID, acquired, nil
}

// Release marks lockID released. Callers must call this exactly once
// per successful TryAcquire, regardless of the execution outcome.
func (s *Service) Release(ctx context.Context, lockID int64) error {
	return s.store.Release(ctx, lockID)
}

// ReclaimStale releases every lease older than maxAge, recovering from
// a replica that acquired a lock and died before releasing it.
func (s *Service) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.store.ReclaimStale(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("reclaimed stale execution locks")
	}
	return n, nil
}
