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

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// LockRepository persists loader.execution_locks. It satisfies
// pkg/lock.Store. TryAcquire serialises the held-count check and the
// insert inside one transaction holding a row-level guard (an advisory
// lock on loaderCode via pg_advisory_xact_lock) so two concurrent
// committers can never both observe held < maxParallel.
type LockRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewLockRepository(db *sqlx.DB, logger *zap.Logger) *LockRepository {
	return &LockRepository{db: db, logger: logger}
}

func (r *LockRepository) TryAcquire(ctx context.Context, loaderCode string, maxParallel int, replicaName string) (int64, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin lock transaction for %q: %w", loaderCode, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, loaderCode); err != nil {
		return 0, false, fmt.Errorf("failed to acquire advisory lock for %q: %w", loaderCode, err)
	}

	var held int
	if err := tx.GetContext(ctx, &held, `
		SELECT count(*) FROM loader.execution_locks WHERE loader_code = $1 AND released = false
	`, loaderCode); err != nil {
		return 0, false, fmt.Errorf("failed to count held locks for %q: %w", loaderCode, err)
	}
	if held >= maxParallel {
		return 0, false, nil
	}

	var lockID int64
	if err := tx.GetContext(ctx, &lockID, `
		INSERT INTO loader.execution_locks (loader_code, replica_name, acquired_at, released)
		VALUES ($1, $2, now(), false)
		RETURNING id
	`, loaderCode, replicaName); err != nil {
		return 0, false, fmt.Errorf("failed to insert execution lock for %q: %w", loaderCode, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit lock acquisition for %q: %w", loaderCode, err)
	}
	return lockID, true, nil
}

func (r *LockRepository) Release(ctx context.Context, lockID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE loader.execution_locks SET released = true, released_at = now() WHERE id = $1
	`, lockID)
	if err != nil {
		return fmt.Errorf("failed to release lock %d: %w", lockID, err)
	}
	return nil
}

func (r *LockRepository) ReclaimStale(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loader.execution_locks SET released = true, released_at = now()
		WHERE released = false AND acquired_at < $1
	`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *LockRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
