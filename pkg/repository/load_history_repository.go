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

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository/sqlutil"
)

// LoadHistoryRepository persists loader.load_history, the executor's
// append-only execution log.
type LoadHistoryRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewLoadHistoryRepository(db *sqlx.DB, logger *zap.Logger) *LoadHistoryRepository {
	return &LoadHistoryRepository{db: db, logger: logger}
}

// Start inserts the RUNNING row the executor creates at the beginning
// of an execution attempt, returning its generated ID.
func (r *LoadHistoryRepository) Start(ctx context.Context, h *models.LoadHistory) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO loader.load_history
			(loader_code, source_database_code, replica_name, start_time, query_from_time, query_to_time, status, records_loaded, records_ingested, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, now())
		RETURNING id
	`, h.LoaderCode, h.SourceDatabaseCode, h.ReplicaName, h.StartTime,
		sqlutil.ToNullTime(h.QueryFromTime), sqlutil.ToNullTime(h.QueryToTime), models.HistoryRunning,
	).Scan(&id)
	if err != nil {
		r.logger.Error("failed to insert load_history row", zap.String("loader_code", h.LoaderCode), zap.Error(err))
		return 0, fmt.Errorf("failed to insert load history for %q: %w", h.LoaderCode, err)
	}
	return id, nil
}

// Finish records the terminal state of an execution attempt.
func (r *LoadHistoryRepository) Finish(ctx context.Context, id int64, status models.HistoryStatus, recordsLoaded, recordsIngested int64, errMsg *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE loader.load_history SET
			status = $1,
			end_time = now(),
			duration_seconds = EXTRACT(EPOCH FROM (now() - start_time)),
			records_loaded = $2,
			records_ingested = $3,
			error_message = $4
		WHERE id = $5
	`, status, recordsLoaded, recordsIngested, sqlutil.ToNullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to finalize load history %d: %w", id, err)
	}
	return nil
}

// QueryHistory supports the admin API's bounded history query, capped
// at 1000 rows regardless of the requested limit.
func (r *LoadHistoryRepository) QueryHistory(ctx context.Context, loaderCode string, limit int) ([]models.LoadHistory, error) {
	return r.Search(ctx, HistoryFilter{LoaderCode: loaderCode, Limit: limit})
}

// HistoryFilter is the admin API's queryHistory(loaderCode?, status?,
// fromTime?, toTime?, limit≤1000) parameter set, per spec.md §6.4.
type HistoryFilter struct {
	LoaderCode string
	Status     *models.HistoryStatus
	FromTime   *time.Time
	ToTime     *time.Time
	Limit      int
}

// Search runs the admin API's filtered history query, always capping
// limit at 1000 regardless of what was requested.
func (r *LoadHistoryRepository) Search(ctx context.Context, f HistoryFilter) ([]models.LoadHistory, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 1000
	}

	query := `SELECT * FROM loader.load_history WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.LoaderCode != "" {
		query += " AND loader_code = " + arg(f.LoaderCode)
	}
	if f.Status != nil {
		query += " AND status = " + arg(*f.Status)
	}
	if f.FromTime != nil {
		query += " AND start_time >= " + arg(*f.FromTime)
	}
	if f.ToTime != nil {
		query += " AND start_time <= " + arg(*f.ToTime)
	}
	query += " ORDER BY start_time DESC LIMIT " + arg(f.Limit)

	var rows []models.LoadHistory
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query load history: %w", err)
	}
	return rows, nil
}

func (r *LoadHistoryRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
