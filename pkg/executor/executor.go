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

// Package executor runs one loader's extract-transform-load cycle: it
// computes the pull window, renders and runs the source query,
// transforms rows, and persists them under the loader's purge
// strategy, recording the outcome in load history.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signaldata/loaderengine/internal/crypto"
	lerrors "github.com/signaldata/loaderengine/internal/errors"
	"github.com/signaldata/loaderengine/pkg/metrics"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/sqlparam"
	"github.com/signaldata/loaderengine/pkg/timewindow"
	"github.com/signaldata/loaderengine/pkg/transform"
)

// finalizeTimeout bounds the detached context used to persist a
// loader's terminal state when the execution's own context has
// already been cancelled (hung-execution timeout) — best-effort
// finalisation should not be doomed by the same deadline that caused
// the failure.
const finalizeTimeout = 10 * time.Second

// LoaderStore persists the executor's mutations to a loader's
// status/watermark fields.
type LoaderStore interface {
	UpdateWatermark(ctx context.Context, loader *models.Loader) error
}

// SourceDatabaseStore resolves the source database a loader reads
// from.
type SourceDatabaseStore interface {
	GetByID(ctx context.Context, id int64) (models.SourceDatabase, error)
}

// HistoryStore persists the append-only execution log.
type HistoryStore interface {
	Start(ctx context.Context, h *models.LoadHistory) (int64, error)
	Finish(ctx context.Context, id int64, status models.HistoryStatus, recordsLoaded, recordsIngested int64, errMsg *string) error
}

// QueryRunner executes the rendered source SQL.
type QueryRunner interface {
	RunQuery(ctx context.Context, dbCode string, query string) ([]transform.Row, error)
}

// SignalsStore persists transformed rows under a purge strategy. The
// window is threaded through so PURGE_AND_RELOAD can delete by
// [window.From, window.To) rather than by the timestamps merely
// present in the current batch.
type SignalsStore interface {
	Persist(ctx context.Context, loaderCode string, strategy models.PurgeStrategy, rows []models.SignalsHistory, window timewindow.Window) (int64, error)
}

// Decrypter decrypts a loader's stored SQL text. loaderSql is held
// encrypted at rest (C3); plaintext fixtures used in tests pass
// crypto.IsEncrypted's heuristic check as false and are run as-is.
type Decrypter interface {
	Decrypt(cipherText string) (string, error)
}

// WindowCalculator computes the next pull window for a loader.
type WindowCalculator interface {
	Calculate(loader *models.Loader) (timewindow.Window, error)
}

// RowTransformer maps source rows into signal records.
type RowTransformer interface {
	Transform(ctx context.Context, loaderCode string, rows []transform.Row, timezoneOffsetHours int) ([]models.SignalsHistory, error)
}

// Executor is the C9 contract surface.
type Executor struct {
	Loaders         LoaderStore
	SourceDatabases SourceDatabaseStore
	History         HistoryStore
	Query           QueryRunner
	Signals         SignalsStore
	Window          WindowCalculator
	Transform       RowTransformer
	ReplicaName     string
	ReplicaOrdinal  int
	HungThreshold   time.Duration
	Logger          *logrus.Logger
	Crypto          Decrypter
}

// Execute runs one extract-transform-load cycle for loader, per the
// IDLE/FAILED → RUNNING → IDLE/FAILED state machine. It never returns
// an error to the caller: failures are classified, persisted onto
// LoadHistory, and swallowed, so the caller's lock release is
// unconditional.
func (e *Executor) Execute(ctx context.Context, loader *models.Loader) *models.LoadHistory {
	ctx, cancel := context.WithTimeout(ctx, e.HungThreshold)
	defer cancel()

	start := time.Now()
	defer func() { metrics.ExecutionDurationSeconds.Observe(time.Since(start).Seconds()) }()

	history := &models.LoadHistory{
		LoaderCode:  loader.LoaderCode,
		ReplicaName: e.ReplicaName,
		StartTime:   time.Now(),
		Status:      models.HistoryRunning,
	}
	loader.LoadStatus = models.LoadStatusRunning

	historyID, err := e.History.Start(ctx, history)
	if err != nil {
		e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to persist initial load history row")
		return e.fail(ctx, loader, 0, err)
	}

	if err := e.Loaders.UpdateWatermark(ctx, loader); err != nil {
		e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to mark loader RUNNING")
		return e.fail(ctx, loader, historyID, err)
	}

	window, err := e.Window.Calculate(loader)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}
	history.QueryFromTime = &window.From
	history.QueryToTime = &window.To

	if window.Empty() {
		return e.succeed(ctx, loader, historyID, window, 0, 0)
	}

	sourceDB, err := e.SourceDatabases.GetByID(ctx, loader.SourceDatabaseID)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}
	history.SourceDatabaseCode = sourceDB.DBCode

	loaderSQL := loader.LoaderSQL
	if crypto.IsEncrypted(loaderSQL) {
		loaderSQL, err = e.Crypto.Decrypt(loaderSQL)
		if err != nil {
			return e.fail(ctx, loader, historyID, err)
		}
	}

	renderedSQL, err := sqlparam.Replace(loaderSQL, window, loader.SourceTimezoneOffsetHours, e.ReplicaOrdinal)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}

	if err := sqlparam.EnsureReadOnly(renderedSQL); err != nil {
		return e.fail(ctx, loader, historyID, err)
	}

	rows, err := e.Query.RunQuery(ctx, sourceDB.DBCode, renderedSQL)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}

	signals, err := e.Transform.Transform(ctx, loader.LoaderCode, rows, loader.SourceTimezoneOffsetHours)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}

	ingested, err := e.Signals.Persist(ctx, loader.LoaderCode, loader.PurgeStrategy, signals, window)
	if err != nil {
		return e.fail(ctx, loader, historyID, err)
	}

	return e.succeed(ctx, loader, historyID, window, len(rows), ingested)
}

func (e *Executor) succeed(ctx context.Context, loader *models.Loader, historyID int64, window timewindow.Window, recordsLoaded int, recordsIngested int64) *models.LoadHistory {
	loader.LoadStatus = models.LoadStatusIdle
	loader.FailedSince = nil
	loader.LastLoadTimestamp = &window.To
	if recordsIngested == 0 {
		loader.ConsecutiveZeroRecordRuns++
	} else {
		loader.ConsecutiveZeroRecordRuns = 0
	}

	if err := e.Loaders.UpdateWatermark(ctx, loader); err != nil {
		e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to persist successful watermark advance")
	}

	if err := e.History.Finish(ctx, historyID, models.HistorySuccess, int64(recordsLoaded), recordsIngested, nil); err != nil {
		e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to finalize load history")
	}

	metrics.ExecutionsTotal.WithLabelValues(string(models.HistorySuccess)).Inc()
	metrics.RecordsLoadedTotal.Add(float64(recordsLoaded))
	metrics.RecordsIngestedTotal.Add(float64(recordsIngested))
	metrics.ConsecutiveZeroRuns.WithLabelValues(loader.LoaderCode).Set(float64(loader.ConsecutiveZeroRecordRuns))

	return &models.LoadHistory{
		LoaderCode:      loader.LoaderCode,
		ReplicaName:     e.ReplicaName,
		Status:          models.HistorySuccess,
		QueryFromTime:   &window.From,
		QueryToTime:     &window.To,
		RecordsLoaded:   int64(recordsLoaded),
		RecordsIngested: recordsIngested,
	}
}

func (e *Executor) fail(ctx context.Context, loader *models.Loader, historyID int64, cause error) *models.LoadHistory {
	loader.LoadStatus = models.LoadStatusFailed
	if loader.FailedSince == nil {
		now := time.Now()
		loader.FailedSince = &now
	}

	// ctx may already be cancelled (hung-execution timeout triggered
	// this very failure); finalisation is best-effort and must not
	// inherit that cancellation, so it runs on a detached context.
	finalizeCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := e.Loaders.UpdateWatermark(finalizeCtx, loader); err != nil {
		e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to persist failure state")
	}

	msg := classify(cause)
	if historyID != 0 {
		if err := e.History.Finish(finalizeCtx, historyID, models.HistoryFailed, 0, 0, &msg); err != nil {
			e.Logger.WithError(err).WithField("loader_code", loader.LoaderCode).Error("failed to finalize failed load history")
		}
	}

	metrics.ExecutionsTotal.WithLabelValues(string(models.HistoryFailed)).Inc()

	return &models.LoadHistory{
		LoaderCode:   loader.LoaderCode,
		ReplicaName:  e.ReplicaName,
		Status:       models.HistoryFailed,
		ErrorMessage: &msg,
	}
}

func classify(err error) string {
	if kind, ok := lerrors.KindOf(err); ok {
		msg := err.Error()
		if msg == string(kind) || strings.HasPrefix(msg, string(kind)+": ") {
			return msg
		}
		return string(kind) + ": " + msg
	}
	return err.Error()
}
