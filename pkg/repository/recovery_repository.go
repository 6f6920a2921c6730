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

// RecoveryRepository implements pkg/recovery.Store: the two batch
// resets the recovery tick runs against loader.loaders each cycle.
type RecoveryRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRecoveryRepository(db *sqlx.DB, logger *zap.Logger) *RecoveryRepository {
	return &RecoveryRepository{db: db, logger: logger}
}

// ResetExpiredFailed flips every FAILED loader whose failedSince is
// older than threshold back to IDLE, clearing failedSince, in one
// statement — so a loader stuck in FAILED is reset by exactly one
// recovery tick regardless of how many replicas run one concurrently.
func (r *RecoveryRepository) ResetExpiredFailed(ctx context.Context, threshold time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loader.loaders SET
			load_status = 'IDLE',
			failed_since = NULL,
			updated_at = now()
		WHERE load_status = 'FAILED'
		  AND failed_since IS NOT NULL
		  AND failed_since < $1
	`, time.Now().Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired FAILED loaders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ResetHungRunning flips every RUNNING loader whose current execution
// lock has been released or reclaimed, and whose latest RUNNING
// load_history row is older than hungThreshold, to FAILED with a
// "replica dead" error message. A loader still holding an unreleased
// lock is left alone — it is genuinely executing, not hung.
func (r *RecoveryRepository) ResetHungRunning(ctx context.Context, hungThreshold time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loader.loaders l SET
			load_status = 'FAILED',
			failed_since = now(),
			updated_at = now()
		WHERE l.load_status = 'RUNNING'
		  AND NOT EXISTS (
			SELECT 1 FROM loader.execution_locks el
			WHERE el.loader_code = l.loader_code AND el.released = false
		  )
		  AND EXISTS (
			SELECT 1 FROM loader.load_history lh
			WHERE lh.loader_code = l.loader_code
			  AND lh.status = 'RUNNING'
			  AND lh.id = (
				SELECT id FROM loader.load_history
				WHERE loader_code = l.loader_code
				ORDER BY start_time DESC LIMIT 1
			  )
			  AND lh.start_time < $1
		  )
	`, time.Now().Add(-hungThreshold))
	if err != nil {
		return 0, fmt.Errorf("failed to reset hung RUNNING loaders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE loader.load_history SET
				status = 'FAILED',
				end_time = now(),
				duration_seconds = EXTRACT(EPOCH FROM (now() - start_time)),
				error_message = 'execution timed out; replica dead'
			WHERE status = 'RUNNING' AND start_time < $1
			  AND NOT EXISTS (
				SELECT 1 FROM loader.execution_locks el
				WHERE el.loader_code = load_history.loader_code AND el.released = false
			  )
		`, time.Now().Add(-hungThreshold)); err != nil {
			r.logger.Error("failed to finalize hung load_history rows", zap.Error(err))
		}
	}
	return int(n), nil
}

func (r *RecoveryRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
