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

// Package adminapi exposes the admin boundary of spec.md §6.4: lookup,
// update, pause, resume, adjustTimestamp and queryHistory over a
// loader's definition. Service is plain Go, independent of HTTP, so
// that Router (and, eventually, an out-of-scope gateway) can front it
// without the core needing to know about authentication.
package adminapi

import (
	"context"
	"database/sql"
	"time"

	"github.com/signaldata/loaderengine/internal/crypto"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/repository"
)

// LoaderStore is the loader-definition seam the admin service drives.
type LoaderStore interface {
	GetByCode(ctx context.Context, loaderCode string) (*models.Loader, error)
	Update(ctx context.Context, loader *models.Loader, actor string) error
	Pause(ctx context.Context, loaderCode string, actor string) error
	Resume(ctx context.Context, loaderCode string, actor string) error
	AdjustTimestamp(ctx context.Context, loaderCode string, ts sql.NullTime, actor string) error
}

// HistoryStore is the history-query seam the admin service drives.
type HistoryStore interface {
	Search(ctx context.Context, filter repository.HistoryFilter) ([]models.LoadHistory, error)
}

// Cryptor encrypts/decrypts a loader's stored SQL text (C3: loaderSql
// is held as an encrypted column).
type Cryptor interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}

// Service is the C9-adjacent admin boundary, consumed directly by Go
// callers and wrapped by Router for HTTP callers.
type Service struct {
	Loaders LoaderStore
	History HistoryStore
	Crypto  Cryptor
}

func New(loaders LoaderStore, history HistoryStore, cryptoSvc Cryptor) *Service {
	return &Service{Loaders: loaders, History: history, Crypto: cryptoSvc}
}

// Lookup retrieves a loader's full definition by code, decrypting
// loaderSql so callers always see plaintext.
func (s *Service) Lookup(ctx context.Context, loaderCode string) (*models.Loader, error) {
	loader, err := s.Loaders.GetByCode(ctx, loaderCode)
	if err != nil {
		return nil, err
	}
	if err := s.decryptLoaderSQL(loader); err != nil {
		return nil, err
	}
	return loader, nil
}

// decryptLoaderSQL replaces loader.LoaderSQL in place with its
// plaintext form when it looks like ciphertext, leaving already-plain
// text (e.g. test fixtures) untouched.
func (s *Service) decryptLoaderSQL(loader *models.Loader) error {
	if !crypto.IsEncrypted(loader.LoaderSQL) {
		return nil
	}
	plain, err := s.Crypto.Decrypt(loader.LoaderSQL)
	if err != nil {
		return err
	}
	loader.LoaderSQL = plain
	return nil
}

// LoaderUpdate is the admin-editable subset of a loader's definition.
// Every field is a pointer and nil means "leave unchanged": Service.Update
// loads the current row first and applies only the non-nil fields over it.
type LoaderUpdate struct {
	LoaderSQL                 *string               `json:"loaderSql,omitempty"`
	SourceDatabaseID          *int64                `json:"sourceDatabaseId,omitempty"`
	MinIntervalSeconds        *int                  `json:"minIntervalSeconds,omitempty"`
	MaxIntervalSeconds        *int                  `json:"maxIntervalSeconds,omitempty"`
	MaxQueryPeriodSeconds     *int                  `json:"maxQueryPeriodSeconds,omitempty"`
	MaxParallelExecutions     *int                  `json:"maxParallelExecutions,omitempty"`
	SourceTimezoneOffsetHours *int                  `json:"sourceTimezoneOffsetHours,omitempty"`
	AggregationPeriodSeconds  *int                  `json:"aggregationPeriodSeconds,omitempty"`
	PurgeStrategy             *models.PurgeStrategy `json:"purgeStrategy,omitempty"`
}

// Update applies update over the current definition of loaderCode and
// persists the non-runtime fields only.
func (s *Service) Update(ctx context.Context, loaderCode string, update LoaderUpdate, actor string) (*models.Loader, error) {
	loader, err := s.Loaders.GetByCode(ctx, loaderCode)
	if err != nil {
		return nil, err
	}
	if err := s.decryptLoaderSQL(loader); err != nil {
		return nil, err
	}

	if update.LoaderSQL != nil {
		loader.LoaderSQL = *update.LoaderSQL
	}
	if update.SourceDatabaseID != nil {
		loader.SourceDatabaseID = *update.SourceDatabaseID
	}
	if update.MinIntervalSeconds != nil {
		loader.MinIntervalSeconds = *update.MinIntervalSeconds
	}
	if update.MaxIntervalSeconds != nil {
		loader.MaxIntervalSeconds = *update.MaxIntervalSeconds
	}
	if update.MaxQueryPeriodSeconds != nil {
		loader.MaxQueryPeriodSeconds = *update.MaxQueryPeriodSeconds
	}
	if update.MaxParallelExecutions != nil {
		loader.MaxParallelExecutions = *update.MaxParallelExecutions
	}
	if update.SourceTimezoneOffsetHours != nil {
		loader.SourceTimezoneOffsetHours = *update.SourceTimezoneOffsetHours
	}
	if update.AggregationPeriodSeconds != nil {
		loader.AggregationPeriodSeconds = update.AggregationPeriodSeconds
	}
	if update.PurgeStrategy != nil {
		loader.PurgeStrategy = *update.PurgeStrategy
	}

	persisted := *loader
	encryptedSQL, err := s.Crypto.Encrypt(loader.LoaderSQL)
	if err != nil {
		return nil, err
	}
	persisted.LoaderSQL = encryptedSQL

	if err := s.Loaders.Update(ctx, &persisted, actor); err != nil {
		return nil, err
	}
	return loader, nil
}

// Pause sets loaderCode to PAUSED.
func (s *Service) Pause(ctx context.Context, loaderCode string, actor string) error {
	return s.Loaders.Pause(ctx, loaderCode, actor)
}

// Resume sets loaderCode back to IDLE, rejecting loaders not
// currently PAUSED.
func (s *Service) Resume(ctx context.Context, loaderCode string, actor string) error {
	return s.Loaders.Resume(ctx, loaderCode, actor)
}

// AdjustTimestamp overrides loaderCode's watermark to ts, or clears it
// entirely when ts is nil — the manual reprocessing escape hatch.
func (s *Service) AdjustTimestamp(ctx context.Context, loaderCode string, ts *time.Time, actor string) error {
	var nt sql.NullTime
	if ts != nil {
		nt = sql.NullTime{Time: *ts, Valid: true}
	}
	return s.Loaders.AdjustTimestamp(ctx, loaderCode, nt, actor)
}

// QueryHistory runs the admin API's filtered, bounded history search.
func (s *Service) QueryHistory(ctx context.Context, filter repository.HistoryFilter) ([]models.LoadHistory, error) {
	return s.History.Search(ctx, filter)
}
