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

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository/sqlutil"
)

// SegmentDictionaryRepository persists loader.segment_dictionary. It
// satisfies pkg/segment.Store. GetOrCreateCode relies on the table's
// unique index over (loader_code, seg1..seg10) plus
// ON CONFLICT DO NOTHING / re-select to make the first inserter for a
// given tuple win regardless of concurrent callers.
type SegmentDictionaryRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSegmentDictionaryRepository(db *sqlx.DB, logger *zap.Logger) *SegmentDictionaryRepository {
	return &SegmentDictionaryRepository{db: db, logger: logger}
}

func (r *SegmentDictionaryRepository) GetOrCreateCode(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, error) {
	segs := make([]any, 10)
	for i, v := range tuple {
		segs[i] = sqlutil.ToNullString(v)
	}

	args := append([]any{loaderCode}, segs...)

	var code int64
	err := r.db.GetContext(ctx, &code, `
		SELECT segment_code FROM loader.segment_dictionary
		WHERE loader_code = $1
		  AND seg1 IS NOT DISTINCT FROM $2 AND seg2 IS NOT DISTINCT FROM $3
		  AND seg3 IS NOT DISTINCT FROM $4 AND seg4 IS NOT DISTINCT FROM $5
		  AND seg5 IS NOT DISTINCT FROM $6 AND seg6 IS NOT DISTINCT FROM $7
		  AND seg7 IS NOT DISTINCT FROM $8 AND seg8 IS NOT DISTINCT FROM $9
		  AND seg9 IS NOT DISTINCT FROM $10 AND seg10 IS NOT DISTINCT FROM $11
	`, args...)
	if err == nil {
		return code, nil
	}

	insertArgs := append([]any{loaderCode}, segs...)
	err = r.db.GetContext(ctx, &code, `
		INSERT INTO loader.segment_dictionary
			(loader_code, seg1, seg2, seg3, seg4, seg5, seg6, seg7, seg8, seg9, seg10, segment_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			COALESCE((SELECT MAX(segment_code) FROM loader.segment_dictionary WHERE loader_code = $1), 0) + 1)
		ON CONFLICT (loader_code, seg1, seg2, seg3, seg4, seg5, seg6, seg7, seg8, seg9, seg10)
		DO UPDATE SET loader_code = EXCLUDED.loader_code
		RETURNING segment_code
	`, insertArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve segment code for loader %q: %w", loaderCode, err)
	}
	return code, nil
}

func (r *SegmentDictionaryRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
