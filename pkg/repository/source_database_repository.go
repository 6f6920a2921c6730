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
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/validation"
)

// SourceDatabaseRepository persists loader.source_databases. It
// satisfies pkg/sourcepool.SourceRepository.
type SourceDatabaseRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSourceDatabaseRepository(db *sqlx.DB, logger *zap.Logger) *SourceDatabaseRepository {
	return &SourceDatabaseRepository{db: db, logger: logger}
}

// Get retrieves the current connection parameters and version for
// dbCode, so the pool manager can detect a version change.
func (r *SourceDatabaseRepository) Get(ctx context.Context, dbCode string) (models.SourceDatabase, error) {
	var source models.SourceDatabase
	err := r.db.GetContext(ctx, &source, `SELECT * FROM loader.source_databases WHERE db_code = $1`, dbCode)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SourceDatabase{}, validation.NewNotFound(fmt.Sprintf("source database %q not found", dbCode))
	}
	if err != nil {
		return models.SourceDatabase{}, fmt.Errorf("failed to retrieve source database %q: %w", dbCode, err)
	}
	return source, nil
}

// GetByID resolves a source database by its primary key, the join
// Loader.SourceDatabaseID points at.
func (r *SourceDatabaseRepository) GetByID(ctx context.Context, id int64) (models.SourceDatabase, error) {
	var source models.SourceDatabase
	err := r.db.GetContext(ctx, &source, `SELECT * FROM loader.source_databases WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SourceDatabase{}, validation.NewNotFound(fmt.Sprintf("source database id %d not found", id))
	}
	if err != nil {
		return models.SourceDatabase{}, fmt.Errorf("failed to retrieve source database id %d: %w", id, err)
	}
	return source, nil
}

func (r *SourceDatabaseRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
