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

// Package repository persists the loader engine's entities via sqlx
// over the central Postgres store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository/sqlutil"
	"github.com/signaldata/loaderengine/pkg/validation"
)

// LoaderRepository persists loader.loaders.
type LoaderRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewLoaderRepository(db *sqlx.DB, logger *zap.Logger) *LoaderRepository {
	return &LoaderRepository{db: db, logger: logger}
}

// ListEligibleCandidates returns every loader row the scheduler should
// consider this tick: enabled, approved, IDLE or FAILED.
func (r *LoaderRepository) ListEligibleCandidates(ctx context.Context) ([]models.Loader, error) {
	var loaders []models.Loader
	err := r.db.SelectContext(ctx, &loaders, `
		SELECT * FROM loader.loaders
		WHERE enabled = true
		  AND approval_status = 'APPROVED'
		  AND load_status IN ('IDLE', 'FAILED')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible loaders: %w", err)
	}
	return loaders, nil
}

func (r *LoaderRepository) GetByCode(ctx context.Context, loaderCode string) (*models.Loader, error) {
	var loader models.Loader
	err := r.db.GetContext(ctx, &loader, `SELECT * FROM loader.loaders WHERE loader_code = $1`, loaderCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, validation.NewNotFound(fmt.Sprintf("loader %q not found", loaderCode))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve loader %q: %w", loaderCode, err)
	}
	return &loader, nil
}

// UpdateWatermark persists the executor's post-run mutations to a
// loader's status/watermark fields. Callers hold the execution lock
// for the duration of the call. A PAUSED status set by the admin API
// is kept; the other fields are still written.
func (r *LoaderRepository) UpdateWatermark(ctx context.Context, loader *models.Loader) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE loader.loaders SET
			load_status = CASE WHEN load_status = 'PAUSED' THEN load_status ELSE $1 END,
			last_load_timestamp = $2,
			failed_since = $3,
			consecutive_zero_record_runs = $4,
			updated_at = now()
		WHERE loader_code = $5
	`,
		loader.LoadStatus,
		sqlutil.ToNullTime(loader.LastLoadTimestamp),
		sqlutil.ToNullTime(loader.FailedSince),
		loader.ConsecutiveZeroRecordRuns,
		loader.LoaderCode,
	)
	if err != nil {
		r.logger.Error("failed to update loader watermark", zap.String("loader_code", loader.LoaderCode), zap.Error(err))
		return fmt.Errorf("failed to update loader %q: %w", loader.LoaderCode, err)
	}
	return nil
}

// Pause takes a short row lock on loaderCode and sets load_status to
// PAUSED, the admin API's pause operation. It does not race the
// executor's own transitions: UpdateWatermark never overwrites a PAUSED
// status, so pausing an IDLE or FAILED loader is always safe, and
// pausing a RUNNING one simply takes effect once it returns.
func (r *LoaderRepository) Pause(ctx context.Context, loaderCode string, actor string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pause transaction for %q: %w", loaderCode, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `
		SELECT true FROM loader.loaders WHERE loader_code = $1 FOR UPDATE
	`, loaderCode); errors.Is(err, sql.ErrNoRows) {
		return validation.NewNotFound(fmt.Sprintf("loader %q not found", loaderCode))
	} else if err != nil {
		return fmt.Errorf("failed to lock loader %q: %w", loaderCode, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE loader.loaders SET load_status = 'PAUSED', updated_by = $1, updated_at = now()
		WHERE loader_code = $2
	`, actor, loaderCode); err != nil {
		return fmt.Errorf("failed to pause loader %q: %w", loaderCode, err)
	}

	return tx.Commit()
}

// Resume takes a short row lock on loaderCode and sets load_status to
// IDLE, the admin API's resume operation. It rejects a loader whose
// current status is not PAUSED, per spec.md §6.4.
func (r *LoaderRepository) Resume(ctx context.Context, loaderCode string, actor string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin resume transaction for %q: %w", loaderCode, err)
	}
	defer tx.Rollback()

	var status models.LoadStatus
	if err := tx.GetContext(ctx, &status, `
		SELECT load_status FROM loader.loaders WHERE loader_code = $1 FOR UPDATE
	`, loaderCode); errors.Is(err, sql.ErrNoRows) {
		return validation.NewNotFound(fmt.Sprintf("loader %q not found", loaderCode))
	} else if err != nil {
		return fmt.Errorf("failed to lock loader %q: %w", loaderCode, err)
	}

	if status != models.LoadStatusPaused {
		return validation.NewConflict(fmt.Sprintf("loader %q is not PAUSED (current status %q)", loaderCode, status))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE loader.loaders SET load_status = 'IDLE', updated_by = $1, updated_at = now()
		WHERE loader_code = $2
	`, actor, loaderCode); err != nil {
		return fmt.Errorf("failed to resume loader %q: %w", loaderCode, err)
	}

	return tx.Commit()
}

// Update persists the admin-editable subset of a loader's definition
// (non-runtime fields only — load_status/watermark/failed_since remain
// the executor's exclusive domain).
func (r *LoaderRepository) Update(ctx context.Context, loader *models.Loader, actor string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loader.loaders SET
			loader_sql = $1,
			source_database_id = $2,
			min_interval_seconds = $3,
			max_interval_seconds = $4,
			max_query_period_seconds = $5,
			max_parallel_executions = $6,
			source_timezone_offset_hours = $7,
			aggregation_period_seconds = $8,
			purge_strategy = $9,
			updated_by = $10,
			updated_at = now()
		WHERE loader_code = $11
	`,
		loader.LoaderSQL, loader.SourceDatabaseID,
		loader.MinIntervalSeconds, loader.MaxIntervalSeconds, loader.MaxQueryPeriodSeconds, loader.MaxParallelExecutions,
		loader.SourceTimezoneOffsetHours, loader.AggregationPeriodSeconds, loader.PurgeStrategy,
		actor, loader.LoaderCode,
	)
	if err != nil {
		return fmt.Errorf("failed to update loader %q: %w", loader.LoaderCode, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return validation.NewNotFound(fmt.Sprintf("loader %q not found", loader.LoaderCode))
	}
	return nil
}

// AdjustTimestamp overrides a loader's watermark, the admin API's
// manual-reprocessing escape hatch.
func (r *LoaderRepository) AdjustTimestamp(ctx context.Context, loaderCode string, ts sql.NullTime, actor string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loader.loaders SET last_load_timestamp = $1, updated_by = $2, updated_at = now()
		WHERE loader_code = $3
	`, ts, actor, loaderCode)
	if err != nil {
		return fmt.Errorf("failed to update loader %q: %w", loaderCode, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return validation.NewNotFound(fmt.Sprintf("loader %q not found", loaderCode))
	}
	return nil
}

func (r *LoaderRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
