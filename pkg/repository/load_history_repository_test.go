package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/signaldata/loaderengine/pkg/models"
)

func TestLoadHistoryRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Load History Repository Suite")
}

var _ = Describe("LoadHistoryRepository", func() {
	var (
		repo *LoadHistoryRepository
		mock sqlmock.Sqlmock
		ctx  context.Context
	)

	BeforeEach(func() {
		db, m := newMockSqlxDB()
		mock = m
		repo = NewLoadHistoryRepository(db, zap.NewNop())
		ctx = context.Background()
	})

	It("inserts a RUNNING row and returns the generated id", func() {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO loader.load_history`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

		id, err := repo.Start(ctx, &models.LoadHistory{
			LoaderCode: "SIG_A", SourceDatabaseCode: "SRC1", ReplicaName: "replica-1", StartTime: now,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(42)))
	})

	It("finalizes a history row", func() {
		mock.ExpectExec(`UPDATE loader.load_history SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Finish(ctx, 42, models.HistorySuccess, 100, 100, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
	})

	It("caps the query limit at 1000", func() {
		mock.ExpectQuery(`SELECT \* FROM loader.load_history`).
			WithArgs("SIG_A", 1000).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "loader_code", "source_database_code", "replica_name", "start_time", "end_time",
				"duration_seconds", "query_from_time", "query_to_time", "status",
				"records_loaded", "records_ingested", "error_message", "created_at",
			}))

		_, err := repo.QueryHistory(ctx, "SIG_A", 5000)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).NotTo(HaveOccurred())
	})
})
