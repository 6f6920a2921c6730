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

// Package app wires every component this module builds into a single
// root object, constructed once at process startup. No package outside
// internal/replica.Identifier's sync.Once and pkg/metrics's
// package-level promauto collectors holds global state; everything
// else is a field here, passed down by reference.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/signaldata/loaderengine/internal/config"
	"github.com/signaldata/loaderengine/internal/crypto"
	"github.com/signaldata/loaderengine/internal/database"
	"github.com/signaldata/loaderengine/internal/replica"
	"github.com/signaldata/loaderengine/pkg/adminapi"
	"github.com/signaldata/loaderengine/pkg/executor"
	"github.com/signaldata/loaderengine/pkg/lock"
	"github.com/signaldata/loaderengine/pkg/recovery"
	"github.com/signaldata/loaderengine/pkg/repository"
	"github.com/signaldata/loaderengine/pkg/scheduler"
	"github.com/signaldata/loaderengine/pkg/segment"
	"github.com/signaldata/loaderengine/pkg/sourcepool"
	"github.com/signaldata/loaderengine/pkg/timewindow"
	"github.com/signaldata/loaderengine/pkg/transform"

	"github.com/go-chi/chi/v5"
)

// App is the execution engine's root object.
type App struct {
	Config *config.Config

	Logger    *logrus.Logger
	ZapLogger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Replica *replica.Identifier
	Crypto  *crypto.Service

	Loaders         *repository.LoaderRepository
	SourceDatabases *repository.SourceDatabaseRepository
	History         *repository.LoadHistoryRepository
	Locks           *repository.LockRepository
	Segments        *repository.SegmentDictionaryRepository
	Signals         *repository.SignalsRepository
	RecoveryStore   *repository.RecoveryRepository

	SourcePool        *sourcepool.Manager
	SegmentDictionary *segment.Dictionary
	Transformer       *transform.Transformer
	TimeWindow        *timewindow.Calculator
	LockService       *lock.Service
	Executor          *executor.Executor
	Scheduler         *scheduler.Scheduler
	Recovery          *recovery.Recovery

	Admin  *adminapi.Service
	Router chi.Router
}

// New builds the whole application graph from cfg: loggers, the
// central store connection, every repository, every domain component,
// and the scheduler and admin boundary that drive them. It does not
// start anything — call Run for that.
func New(cfg *config.Config) (*App, error) {
	logger := newLogrusLogger(cfg.Logging)
	zapLogger, err := newZapLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}

	cryptoSvc, err := crypto.NewService(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("building encryption service: %w", err)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.Database
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.LoadFromEnv()

	db, err := database.Connect(dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to central store: %w", err)
	}

	replicaID := replica.New(cfg.Replica.NameEnv)

	loaders := repository.NewLoaderRepository(db, zapLogger)
	sourceDatabases := repository.NewSourceDatabaseRepository(db, zapLogger)
	history := repository.NewLoadHistoryRepository(db, zapLogger)
	locks := repository.NewLockRepository(db, zapLogger)
	segments := repository.NewSegmentDictionaryRepository(db, zapLogger)
	signals := repository.NewSignalsRepository(db, zapLogger)
	recoveryStore := repository.NewRecoveryRepository(db, zapLogger)

	var redisClient *redis.Client
	var segCache segment.Cache
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		segCache = segment.NewRedisCache(redisClient)
	}
	segmentDict := segment.NewDictionary(segments, segCache)

	sourcePool := sourcepool.New(sourceDatabases, cryptoSvc, logger,
		sourcepool.WithQueryTimeout(cfg.Executor.QueryTimeout),
		sourcepool.WithMaxRetries(cfg.Executor.QueryMaxRetries),
	)

	transformer := transform.New(segmentDict)
	timeWindow := timewindow.New(cfg.Executor.DefaultLookbackHours)
	lockService := lock.NewService(locks, logger)

	exec := &executor.Executor{
		Loaders:         loaders,
		SourceDatabases: sourceDatabases,
		History:         history,
		Query:           sourcePool,
		Signals:         signals,
		Window:          timeWindow,
		Transform:       transformer,
		ReplicaName:     replicaID.Name(),
		HungThreshold:   cfg.Executor.HungThreshold,
		Logger:          logger,
		Crypto:          cryptoSvc,
	}

	rec := recovery.New(recoveryStore, cfg.Recovery.FailedThreshold, cfg.Executor.HungThreshold, logger)

	sched := scheduler.New(loaders, lockService, exec, rec, replicaID.Name(), scheduler.Config{
		DispatchPeriod:    cfg.Scheduler.DispatchPeriod,
		RecoveryPeriod:    cfg.Scheduler.RecoveryPeriod,
		StaleLockPeriod:   cfg.Scheduler.StaleLockPeriod,
		StaleLockMaxAge:   cfg.Lock.MaxAge,
		RecoveryThreshold: cfg.Recovery.FailedThreshold,
		WorkerPoolSize:    cfg.Scheduler.WorkerPoolSize,
	}, logger)

	adminSvc := adminapi.New(loaders, history, cryptoSvc)
	router := adminapi.NewRouter(adminSvc, adminapi.CORSOrigins(cfg.Admin.CORSOrigins))

	a := &App{
		Config:            cfg,
		Logger:            logger,
		ZapLogger:         zapLogger,
		DB:                db,
		Redis:             redisClient,
		Replica:           replicaID,
		Crypto:            cryptoSvc,
		Loaders:           loaders,
		SourceDatabases:   sourceDatabases,
		History:           history,
		Locks:             locks,
		Segments:          segments,
		Signals:           signals,
		RecoveryStore:     recoveryStore,
		SourcePool:        sourcePool,
		SegmentDictionary: segmentDict,
		Transformer:       transformer,
		TimeWindow:        timeWindow,
		LockService:       lockService,
		Executor:          exec,
		Scheduler:         sched,
		Recovery:          rec,
		Admin:             adminSvc,
		Router:            router,
	}

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", a.handleHealthz)

	return a, nil
}

// Run starts the scheduler's ticks and the admin/metrics HTTP server,
// and blocks until ctx is cancelled or either fails. A failure in
// either stops the other, matching the scheduler's own fail-fast
// errgroup (spec.md §5).
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})

	srv := &http.Server{
		Addr:    a.Config.Admin.Addr,
		Handler: a.Router,
	}
	g.Go(func() error {
		a.Logger.WithField("addr", srv.Addr).Info("admin/metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases resources New acquired: the central store connection
// pool and, if configured, the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing app resources: %v", errs)
	}
	return nil
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"loaders", a.Loaders.HealthCheck},
		{"source_databases", a.SourceDatabases.HealthCheck},
		{"history", a.History.HealthCheck},
		{"locks", a.Locks.HealthCheck},
		{"segments", a.Segments.HealthCheck},
		{"signals", a.Signals.HealthCheck},
		{"recovery", a.RecoveryStore.HealthCheck},
	}
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			a.Logger.WithError(err).WithField("check", c.name).Warn("health check failed")
			http.Error(w, fmt.Sprintf("%s: %v", c.name, err), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func newLogrusLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newZapLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "text" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	var level zapcore.Level
	if err := level.Set(cfg.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}
