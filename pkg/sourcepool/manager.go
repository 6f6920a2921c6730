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

// Package sourcepool maintains one connection pool per source database,
// keyed by dbCode, and executes read-only queries against it. The pools
// keep database/sql's defaults: no limit is set on their open
// connections.
package sourcepool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/signaldata/loaderengine/internal/crypto"
	lerrors "github.com/signaldata/loaderengine/internal/errors"
	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/transform"
)

// SourceRepository resolves the current SourceDatabase record for a
// dbCode, so the manager can detect a version change and rebuild the
// pool lazily.
type SourceRepository interface {
	Get(ctx context.Context, dbCode string) (models.SourceDatabase, error)
}

// Opener abstracts *sql.DB construction so tests can substitute a
// sqlmock-backed database without a real driver registration.
type Opener func(driverName, dsn string) (*sql.DB, error)

func defaultOpener(driverName, dsn string) (*sql.DB, error) {
	return sql.Open(driverName, dsn)
}

type pooledConn struct {
	db      *sql.DB
	version int64
}

// Manager is the C2 contract surface.
type Manager struct {
	repo     SourceRepository
	crypto   *crypto.Service
	opener   Opener
	logger   *logrus.Logger
	timeout  time.Duration
	maxRetry int

	mu       sync.Mutex
	pools    map[string]*pooledConn
	breakers map[string]*CircuitBreaker
	sf       singleflight.Group
}

type Option func(*Manager)

func WithOpener(o Opener) Option { return func(m *Manager) { m.opener = o } }
func WithQueryTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}
func WithMaxRetries(n int) Option { return func(m *Manager) { m.maxRetry = n } }

func New(repo SourceRepository, cryptoSvc *crypto.Service, logger *logrus.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		repo:     repo,
		crypto:   cryptoSvc,
		opener:   defaultOpener,
		logger:   logger,
		timeout:  60 * time.Second,
		maxRetry: 3,
		pools:    make(map[string]*pooledConn),
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func driverNameFor(dbType string) (string, error) {
	switch strings.ToUpper(dbType) {
	case "POSTGRES", "POSTGRESQL":
		return "postgres", nil
	default:
		return "", fmt.Errorf("no driver registered for dbType %q", dbType)
	}
}

func dsnFor(dbType, ip string, port int, dbName, user, password string) (string, error) {
	driver, err := driverNameFor(dbType)
	if err != nil {
		return "", err
	}
	switch driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
			ip, port, dbName, user, password), nil
	default:
		return "", fmt.Errorf("no DSN builder for driver %q", driver)
	}
}

func (m *Manager) breakerFor(dbCode string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[dbCode]
	if !ok {
		cb = NewCircuitBreaker(dbCode, 0.5, 30*time.Second)
		m.breakers[dbCode] = cb
	}
	return cb
}

// pool returns the (possibly cached) *sql.DB for source, rebuilding it
// if source.Version has changed since the pool was built. Concurrent
// callers for the same dbCode collapse onto a single build via
// singleflight.
func (m *Manager) pool(ctx context.Context, source models.SourceDatabase) (*sql.DB, error) {
	m.mu.Lock()
	entry, ok := m.pools[source.DBCode]
	m.mu.Unlock()
	if ok && entry.version == source.Version {
		return entry.db, nil
	}

	v, err, _ := m.sf.Do(source.DBCode, func() (any, error) {
		m.mu.Lock()
		entry, ok := m.pools[source.DBCode]
		m.mu.Unlock()
		if ok && entry.version == source.Version {
			return entry.db, nil
		}

		password, err := m.crypto.Decrypt(source.Password)
		if err != nil {
			return nil, lerrors.New(lerrors.KindSourceUnavailable, fmt.Errorf("decrypting password for %s: %w", source.DBCode, err))
		}
		dsn, err := dsnFor(source.DBType, source.IP, source.Port, source.DBName, source.UserName, password)
		if err != nil {
			return nil, lerrors.New(lerrors.KindSourceUnavailable, err)
		}
		driver, _ := driverNameFor(source.DBType)

		db, err := m.opener(driver, dsn)
		if err != nil {
			return nil, lerrors.New(lerrors.KindSourceUnavailable, fmt.Errorf("opening pool for %s: %w", source.DBCode, err))
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, lerrors.New(lerrors.KindSourceUnavailable, fmt.Errorf("pinging %s: %w", source.DBCode, err))
		}

		if ok && entry.db != nil {
			_ = entry.db.Close()
		}

		m.mu.Lock()
		m.pools[source.DBCode] = &pooledConn{db: db, version: source.Version}
		m.mu.Unlock()

		m.logger.WithField("db_code", source.DBCode).Info("source pool (re)built")
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

// RunQuery obtains the pool for dbCode, executes sql with a per-query
// timeout, and materialises rows as a sequence of
// {lower-cased column name -> value}.
func (m *Manager) RunQuery(ctx context.Context, dbCode string, query string) ([]transform.Row, error) {
	source, err := m.repo.Get(ctx, dbCode)
	if err != nil {
		return nil, lerrors.New(lerrors.KindSourceUnavailable, fmt.Errorf("looking up source database %s: %w", dbCode, err))
	}

	db, err := m.pool(ctx, source)
	if err != nil {
		return nil, err
	}

	breaker := m.breakerFor(dbCode)

	var rows []transform.Row
	cbErr := breaker.Call(func() error {
		var runErr error
		rows, runErr = m.runWithRetry(ctx, db, dbCode, query)
		return runErr
	})
	if cbErr != nil {
		if _, ok := lerrors.KindOf(cbErr); ok {
			return nil, cbErr
		}
		return nil, lerrors.New(lerrors.KindSourceUnavailable, cbErr)
	}
	return rows, nil
}

func (m *Manager) runWithRetry(ctx context.Context, db *sql.DB, dbCode, query string) ([]transform.Row, error) {
	queryCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var rows []transform.Row
	operation := func() error {
		r, err := m.runOnce(queryCtx, db, query)
		if err != nil {
			return err
		}
		rows = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.maxRetry))
	err := backoff.Retry(operation, backoff.WithContext(policy, queryCtx))
	if err != nil {
		if queryCtx.Err() != nil {
			return nil, lerrors.New(lerrors.KindQueryTimeout, fmt.Errorf("query against %s timed out: %w", dbCode, err))
		}
		return nil, lerrors.New(lerrors.KindQueryError, fmt.Errorf("query against %s failed: %w", dbCode, err))
	}
	return rows, nil
}

func (m *Manager) runOnce(ctx context.Context, db *sql.DB, query string) ([]transform.Row, error) {
	sqlRows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer sqlRows.Close()

	cols, err := sqlRows.Columns()
	if err != nil {
		return nil, err
	}

	var out []transform.Row
	for sqlRows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(transform.Row, len(cols))
		for i, col := range cols {
			row[strings.ToLower(col)] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, sqlRows.Err()
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
