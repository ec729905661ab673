package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
)

var _ = Describe("PostgresACLRepository", func() {
	var (
		ctx  context.Context
		repo *PostgresACLRepository
		db   *sqlx.DB
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		repo = NewPostgresACLRepository(db, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("Upsert", func() {
		It("inserts with ON CONFLICT upsert semantics", func() {
			entry := &models.ACLEntry{
				PrincipalID: 1,
				ProjectID:   101,
				Role:        models.RoleEngineer,
				Permissions: []models.Permission{models.PermissionRead, models.PermissionWrite},
				GrantedAt:   time.Now(),
			}
			mock.ExpectExec(`INSERT INTO acl_entries`).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(repo.Upsert(ctx, entry)).To(Succeed())
		})

		It("propagates database errors wrapped with context", func() {
			entry := &models.ACLEntry{PrincipalID: 1, ProjectID: 101, Role: models.RoleViewer, GrantedAt: time.Now()}
			mock.ExpectExec(`INSERT INTO acl_entries`).WillReturnError(sqlmock.ErrCancelled)

			err := repo.Upsert(ctx, entry)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("upsert acl entry"))
		})
	})

	Describe("Get", func() {
		It("returns nil without error when no row matches", func() {
			mock.ExpectQuery(`SELECT id, principal_id, project_id, role, permissions, granted_by, granted_at, expires_at`).
				WithArgs(1, 101).
				WillReturnRows(sqlmock.NewRows([]string{"id", "principal_id", "project_id", "role", "permissions", "granted_by", "granted_at", "expires_at"}))

			entry, err := repo.Get(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry).To(BeNil())
		})

		It("decodes the permissions JSON column", func() {
			perms, _ := json.Marshal([]models.Permission{models.PermissionRead})
			mock.ExpectQuery(`SELECT id, principal_id, project_id, role, permissions, granted_by, granted_at, expires_at`).
				WithArgs(1, 101).
				WillReturnRows(sqlmock.NewRows([]string{"id", "principal_id", "project_id", "role", "permissions", "granted_by", "granted_at", "expires_at"}).
					AddRow(1, 1, 101, "viewer", perms, nil, time.Now(), nil))

			entry, err := repo.Get(ctx, 1, 101)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Permissions).To(ConsistOf(models.PermissionRead))
		})
	})
})

var _ = Describe("PostgresRateCounterRepository", func() {
	var (
		ctx  context.Context
		repo *PostgresRateCounterRepository
		db   *sqlx.DB
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		repo = NewPostgresRateCounterRepository(db, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns nil without error for a missing counter", func() {
		mock.ExpectQuery(`SELECT principal_id, endpoint, limit_value, window_seconds, current_count, window_start`).
			WithArgs(1, "default").
			WillReturnRows(sqlmock.NewRows([]string{"principal_id", "endpoint", "limit_value", "window_seconds", "current_count", "window_start"}))

		c, err := repo.Get(ctx, 1, "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(BeNil())
	})

	It("upserts the counter row", func() {
		mock.ExpectExec(`INSERT INTO rate_counters`).WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Upsert(ctx, &models.RateCounter{
			PrincipalID: 1, Endpoint: "default", Limit: 100, WindowSeconds: 60,
			CurrentCount: 1, WindowStart: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
	})
})
