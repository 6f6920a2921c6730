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

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	lerrors "github.com/signaldata/loaderengine/internal/errors"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository/sqlutil"
	"github.com/signaldata/loaderengine/pkg/timewindow"
)

// SignalsRepository appends to loader.signals_history under one of the
// three purge strategies a loader is configured with.
type SignalsRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSignalsRepository(db *sqlx.DB, logger *zap.Logger) *SignalsRepository {
	return &SignalsRepository{db: db, logger: logger}
}

// Persist writes rows for loaderCode according to strategy, returning
// the number of rows actually ingested (may be less than len(rows)
// under SKIP_DUPLICATES). Under PURGE_AND_RELOAD, window bounds the
// range of existing rows deleted before the new batch is inserted.
func (r *SignalsRepository) Persist(ctx context.Context, loaderCode string, strategy models.PurgeStrategy, rows []models.SignalsHistory, window timewindow.Window) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin signals transaction for %q: %w", loaderCode, err)
	}
	defer tx.Rollback()

	if strategy == models.PurgeAndReload {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM loader.signals_history
			WHERE loader_code = $1 AND load_time_stamp >= $2 AND load_time_stamp < $3
		`, loaderCode, window.From.Unix(), window.To.Unix()); err != nil {
			return 0, fmt.Errorf("failed to purge existing signals for %q: %w", loaderCode, err)
		}
	}

	var ingested int64
	for _, row := range rows {
		n, err := r.insertOne(ctx, tx, strategy, row)
		if err != nil {
			return 0, err
		}
		ingested += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit signals for %q: %w", loaderCode, err)
	}
	return ingested, nil
}

func (r *SignalsRepository) insertOne(ctx context.Context, tx *sqlx.Tx, strategy models.PurgeStrategy, row models.SignalsHistory) (int64, error) {
	query := `
		INSERT INTO loader.signals_history
			(loader_code, load_time_stamp, segment_code, rec_count, max_val, min_val, avg_val, sum_val, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`
	if strategy == models.PurgeSkipDuplicates {
		query += ` ON CONFLICT (loader_code, load_time_stamp, segment_code) DO NOTHING`
	}

	res, err := tx.ExecContext(ctx, query,
		row.LoaderCode, row.LoadTimeStamp, row.SegmentCode,
		sqlutil.ToNullFloat64(row.RecCount), sqlutil.ToNullFloat64(row.MaxVal),
		sqlutil.ToNullFloat64(row.MinVal), sqlutil.ToNullFloat64(row.AvgVal), sqlutil.ToNullFloat64(row.SumVal),
	)
	if err != nil {
		if strategy == models.PurgeFailOnDuplicate && sqlutil.IsUniqueViolation(err) {
			return 0, lerrors.New(lerrors.KindSinkDuplicate, err)
		}
		return 0, fmt.Errorf("failed to insert signal for %q: %w", row.LoaderCode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SignalsRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
