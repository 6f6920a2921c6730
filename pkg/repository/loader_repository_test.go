package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/signaldata/loaderengine/pkg/models"
	"github.com/signaldata/loaderengine/pkg/validation"
)

func TestLoaderRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loader Repository Suite")
}

func newMockSqlxDB() (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	Expect(err).NotTo(HaveOccurred())
	return sqlx.NewDb(mockDB, "postgres"), mock
}

var _ = Describe("LoaderRepository", func() {
	var (
		repo   *LoaderRepository
		mock   sqlmock.Sqlmock
		ctx    context.Context
		logger *zap.Logger
	)

	BeforeEach(func() {
		var db *sqlx.DB
		db, mock = newMockSqlxDB()
		logger = zap.NewNop()
		repo = NewLoaderRepository(db, logger)
		ctx = context.Background()
	})

	Describe("ListEligibleCandidates", func() {
		It("returns the eligible loaders", func() {
			cols := []string{
				"id", "loader_code", "loader_sql", "source_database_id",
				"load_status", "enabled", "approval_status",
				"min_interval_seconds", "max_interval_seconds", "max_query_period_seconds", "max_parallel_executions",
				"last_load_timestamp", "source_timezone_offset_hours", "aggregation_period_seconds",
				"purge_strategy", "failed_since", "consecutive_zero_record_runs",
				"created_at", "updated_at", "created_by", "updated_by",
				"approved_by", "approved_at", "rejected_by", "rejected_at", "rejection_reason",
			}
			now := time.Now()
			mock.ExpectQuery(`SELECT \* FROM loader.loaders`).
				WillReturnRows(sqlmock.NewRows(cols).AddRow(
					int64(1), "SIG_A", "SELECT 1", int64(1),
					"IDLE", true, "APPROVED",
					60, 3600, 300, 3,
					nil, 0, nil,
					"FAIL_ON_DUPLICATE", nil, int64(0),
					now, now, "admin", "admin",
					nil, nil, nil, nil, nil,
				))

			loaders, err := repo.ListEligibleCandidates(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaders).To(HaveLen(1))
			Expect(loaders[0].LoaderCode).To(Equal("SIG_A"))
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})

	Describe("GetByCode", func() {
		It("returns NotFound when the loader does not exist", func() {
			mock.ExpectQuery(`SELECT \* FROM loader.loaders WHERE loader_code`).
				WithArgs("MISSING").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.GetByCode(ctx, "MISSING")
			Expect(err).To(HaveOccurred())
			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})

	Describe("Pause", func() {
		It("locks the row and sets load_status to PAUSED", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT true FROM loader.loaders WHERE loader_code = \$1 FOR UPDATE`).
				WithArgs("SIG_A").
				WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))
			mock.ExpectExec(`UPDATE loader.loaders SET load_status = 'PAUSED'`).
				WithArgs("alice", "SIG_A").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := repo.Pause(ctx, "SIG_A", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})

		It("returns NotFound when the loader does not exist", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT true FROM loader.loaders WHERE loader_code = \$1 FOR UPDATE`).
				WithArgs("MISSING").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectRollback()

			err := repo.Pause(ctx, "MISSING", "alice")
			Expect(err).To(HaveOccurred())
			_, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Resume", func() {
		It("sets load_status to IDLE when the loader is currently PAUSED", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT load_status FROM loader.loaders WHERE loader_code = \$1 FOR UPDATE`).
				WithArgs("SIG_A").
				WillReturnRows(sqlmock.NewRows([]string{"load_status"}).AddRow("PAUSED"))
			mock.ExpectExec(`UPDATE loader.loaders SET load_status = 'IDLE'`).
				WithArgs("alice", "SIG_A").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := repo.Resume(ctx, "SIG_A", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})

		It("rejects resuming a loader that is not PAUSED", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT load_status FROM loader.loaders WHERE loader_code = \$1 FOR UPDATE`).
				WithArgs("SIG_A").
				WillReturnRows(sqlmock.NewRows([]string{"load_status"}).AddRow("IDLE"))
			mock.ExpectRollback()

			err := repo.Resume(ctx, "SIG_A", "alice")
			Expect(err).To(HaveOccurred())
			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(409))
		})
	})

	Describe("Update", func() {
		It("persists the admin-editable fields", func() {
			loader := &models.Loader{
				LoaderCode: "SIG_A", LoaderSQL: "SELECT 2", SourceDatabaseID: 2,
				MinIntervalSeconds: 120, MaxIntervalSeconds: 7200, MaxQueryPeriodSeconds: 600,
				MaxParallelExecutions: 2, SourceTimezoneOffsetHours: -5, PurgeStrategy: models.PurgeSkipDuplicates,
			}
			mock.ExpectExec(`UPDATE loader.loaders SET`).
				WithArgs(
					loader.LoaderSQL, loader.SourceDatabaseID,
					loader.MinIntervalSeconds, loader.MaxIntervalSeconds, loader.MaxQueryPeriodSeconds, loader.MaxParallelExecutions,
					loader.SourceTimezoneOffsetHours, loader.AggregationPeriodSeconds, loader.PurgeStrategy,
					"alice", loader.LoaderCode,
				).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.Update(ctx, loader, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
		})
	})
})
