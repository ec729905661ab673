package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// PostgresPromotionRepository CRUDs the regression-guard promotion
// lifecycle: requests, their checks, per-component thresholds, and the
// single atomically-swapped active tag (§4.9).
type PostgresPromotionRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresPromotionRepository(db *sqlx.DB, log *zap.Logger) *PostgresPromotionRepository {
	return &PostgresPromotionRepository{db: db, log: log}
}

func (r *PostgresPromotionRepository) Create(ctx context.Context, req *models.PromotionRequest) (*models.PromotionRequest, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO promotion_requests (component, baseline_tag, candidate_tag, status, workspace_id, requested_by, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		req.Component, req.BaselineTag, req.CandidateTag, req.Status, req.WorkspaceID, req.RequestedBy, req.RequestedAt).Scan(&id)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("create promotion request", err)
	}
	req.ID = id
	return req, nil
}

func (r *PostgresPromotionRepository) Get(ctx context.Context, id int64) (*models.PromotionRequest, error) {
	var row struct {
		ID           int64      `db:"id"`
		Component    string     `db:"component"`
		BaselineTag  string     `db:"baseline_tag"`
		CandidateTag string     `db:"candidate_tag"`
		Status       string     `db:"status"`
		WorkspaceID  *string    `db:"workspace_id"`
		RequestedBy  *int       `db:"requested_by"`
		ApprovedBy   *int       `db:"approved_by"`
		RequestedAt  time.Time  `db:"requested_at"`
		ApprovedAt   *time.Time `db:"approved_at"`
		PromotedAt   *time.Time `db:"promoted_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, component, baseline_tag, candidate_tag, status, workspace_id, requested_by, approved_by,
		       requested_at, approved_at, promoted_at
		FROM promotion_requests WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get promotion request", err)
	}
	return &models.PromotionRequest{
		ID: row.ID, Component: models.RegressionComponent(row.Component), BaselineTag: row.BaselineTag,
		CandidateTag: row.CandidateTag, Status: models.PromotionStatus(row.Status), WorkspaceID: row.WorkspaceID,
		RequestedBy: row.RequestedBy, ApprovedBy: row.ApprovedBy, RequestedAt: row.RequestedAt,
		ApprovedAt: row.ApprovedAt, PromotedAt: row.PromotedAt,
	}, nil
}

func (r *PostgresPromotionRepository) UpdateStatus(ctx context.Context, id int64, status models.PromotionStatus, approvedBy *int) error {
	switch status {
	case models.PromotionApproved:
		_, err := r.db.ExecContext(ctx, `UPDATE promotion_requests SET status = $1, approved_by = $2, approved_at = now() WHERE id = $3`, status, approvedBy, id)
		if err != nil {
			return govplaneerrors.DatabaseError("update promotion status", err)
		}
	case models.PromotionPromoted:
		_, err := r.db.ExecContext(ctx, `UPDATE promotion_requests SET status = $1, promoted_at = now() WHERE id = $2`, status, id)
		if err != nil {
			return govplaneerrors.DatabaseError("update promotion status", err)
		}
	default:
		_, err := r.db.ExecContext(ctx, `UPDATE promotion_requests SET status = $1 WHERE id = $2`, status, id)
		if err != nil {
			return govplaneerrors.DatabaseError("update promotion status", err)
		}
	}
	return nil
}

func (r *PostgresPromotionRepository) List(ctx context.Context, component models.RegressionComponent) ([]models.PromotionRequest, error) {
	query := `SELECT id, component, baseline_tag, candidate_tag, status, workspace_id, requested_by, approved_by,
	                  requested_at, approved_at, promoted_at FROM promotion_requests`
	var args []any
	if component != "" {
		query += ` WHERE component = $1`
		args = append(args, component)
	}
	query += ` ORDER BY requested_at DESC`

	var rows []struct {
		ID           int64      `db:"id"`
		Component    string     `db:"component"`
		BaselineTag  string     `db:"baseline_tag"`
		CandidateTag string     `db:"candidate_tag"`
		Status       string     `db:"status"`
		WorkspaceID  *string    `db:"workspace_id"`
		RequestedBy  *int       `db:"requested_by"`
		ApprovedBy   *int       `db:"approved_by"`
		RequestedAt  time.Time  `db:"requested_at"`
		ApprovedAt   *time.Time `db:"approved_at"`
		PromotedAt   *time.Time `db:"promoted_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, govplaneerrors.DatabaseError("list promotion requests", err)
	}
	out := make([]models.PromotionRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.PromotionRequest{
			ID: row.ID, Component: models.RegressionComponent(row.Component), BaselineTag: row.BaselineTag,
			CandidateTag: row.CandidateTag, Status: models.PromotionStatus(row.Status), WorkspaceID: row.WorkspaceID,
			RequestedBy: row.RequestedBy, ApprovedBy: row.ApprovedBy, RequestedAt: row.RequestedAt,
			ApprovedAt: row.ApprovedAt, PromotedAt: row.PromotedAt,
		})
	}
	return out, nil
}

func (r *PostgresPromotionRepository) AddCheck(ctx context.Context, c *models.RegressionCheck) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO regression_checks (request_id, suite_name, baseline_score, candidate_score, min_threshold, max_drop, drop_value, passed, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.RequestID, c.SuiteName, c.BaselineScore, c.CandidateScore, c.MinThreshold, c.MaxDrop, c.DropValue, c.Passed, c.Report)
	if err != nil {
		return govplaneerrors.DatabaseError("add regression check", err)
	}
	return nil
}

func (r *PostgresPromotionRepository) LatestCheck(ctx context.Context, requestID int64) (*models.RegressionCheck, error) {
	var c models.RegressionCheck
	err := r.db.GetContext(ctx, &c, `
		SELECT id, request_id, suite_name, baseline_score, candidate_score, min_threshold, max_drop, drop_value, passed, report
		FROM regression_checks WHERE request_id = $1 ORDER BY id DESC LIMIT 1`, requestID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get latest regression check", err)
	}
	return &c, nil
}

func (r *PostgresPromotionRepository) GetThresholds(ctx context.Context, component models.RegressionComponent) (*models.RegressionThresholds, error) {
	var t models.RegressionThresholds
	err := r.db.GetContext(ctx, &t, `
		SELECT component, min_threshold, max_drop, enabled FROM regression_thresholds WHERE component = $1`, component)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get regression thresholds", err)
	}
	return &t, nil
}

func (r *PostgresPromotionRepository) UpsertThresholds(ctx context.Context, t *models.RegressionThresholds) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO regression_thresholds (component, min_threshold, max_drop, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (component) DO UPDATE
		SET min_threshold = EXCLUDED.min_threshold, max_drop = EXCLUDED.max_drop, enabled = EXCLUDED.enabled`,
		t.Component, t.MinThreshold, t.MaxDrop, t.Enabled)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert regression thresholds", err)
	}
	return nil
}

func (r *PostgresPromotionRepository) GetCurrentVersion(ctx context.Context, component models.RegressionComponent) (*models.CurrentComponentVersion, error) {
	var v models.CurrentComponentVersion
	err := r.db.GetContext(ctx, &v, `SELECT component, current_tag FROM current_component_versions WHERE component = $1`, component)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get current component version", err)
	}
	return &v, nil
}

func (r *PostgresPromotionRepository) SwapCurrentVersion(ctx context.Context, component models.RegressionComponent, tag string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return govplaneerrors.DatabaseError("begin tag swap transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO current_component_versions (component, current_tag)
		VALUES ($1, $2)
		ON CONFLICT (component) DO UPDATE SET current_tag = EXCLUDED.current_tag`, component, tag)
	if err != nil {
		return govplaneerrors.DatabaseError("swap current component version", err)
	}
	if err := tx.Commit(); err != nil {
		return govplaneerrors.DatabaseError("commit tag swap transaction", err)
	}
	return nil
}
