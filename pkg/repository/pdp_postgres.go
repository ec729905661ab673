package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// PostgresPrincipalRepository resolves principals from the principals table.
type PostgresPrincipalRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresPrincipalRepository(db *sqlx.DB, log *zap.Logger) *PostgresPrincipalRepository {
	return &PostgresPrincipalRepository{db: db, log: log}
}

func (r *PostgresPrincipalRepository) Get(ctx context.Context, id int) (*models.Principal, error) {
	var p models.Principal
	err := r.db.GetContext(ctx, &p,
		`SELECT id, name, email, role FROM principals WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get principal", err)
	}
	return &p, nil
}

func (r *PostgresPrincipalRepository) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM principals WHERE id = $1)`, id)
	if err != nil {
		return false, govplaneerrors.DatabaseError("check principal exists", err)
	}
	return exists, nil
}

// PostgresACLRepository persists the acl_entries table.
type PostgresACLRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresACLRepository(db *sqlx.DB, log *zap.Logger) *PostgresACLRepository {
	return &PostgresACLRepository{db: db, log: log}
}

func (r *PostgresACLRepository) Upsert(ctx context.Context, e *models.ACLEntry) error {
	perms, err := json.Marshal(e.Permissions)
	if err != nil {
		return govplaneerrors.ParseError("acl permissions", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO acl_entries (principal_id, project_id, role, permissions, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (principal_id, project_id) DO UPDATE
		SET role = EXCLUDED.role, permissions = EXCLUDED.permissions,
		    granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at,
		    expires_at = EXCLUDED.expires_at`,
		e.PrincipalID, e.ProjectID, e.Role, perms, e.GrantedBy, e.GrantedAt, e.ExpiresAt)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert acl entry", err)
	}
	return nil
}

func (r *PostgresACLRepository) Get(ctx context.Context, principalID, projectID int) (*models.ACLEntry, error) {
	var row struct {
		ID          int64      `db:"id"`
		PrincipalID int        `db:"principal_id"`
		ProjectID   int        `db:"project_id"`
		Role        string     `db:"role"`
		Permissions []byte     `db:"permissions"`
		GrantedBy   *int       `db:"granted_by"`
		GrantedAt   time.Time  `db:"granted_at"`
		ExpiresAt   *time.Time `db:"expires_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, principal_id, project_id, role, permissions, granted_by, granted_at, expires_at
		FROM acl_entries WHERE principal_id = $1 AND project_id = $2`, principalID, projectID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get acl entry", err)
	}
	var perms []models.Permission
	if err := json.Unmarshal(row.Permissions, &perms); err != nil {
		return nil, govplaneerrors.ParseError("acl permissions", "json", err)
	}
	return &models.ACLEntry{
		ID:          row.ID,
		PrincipalID: row.PrincipalID,
		ProjectID:   row.ProjectID,
		Role:        models.Role(row.Role),
		Permissions: perms,
		GrantedBy:   row.GrantedBy,
		GrantedAt:   row.GrantedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (r *PostgresACLRepository) Delete(ctx context.Context, principalID, projectID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM acl_entries WHERE principal_id = $1 AND project_id = $2`, principalID, projectID)
	if err != nil {
		return false, govplaneerrors.DatabaseError("revoke acl entry", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *PostgresACLRepository) ProjectsFor(ctx context.Context, principalID int, now time.Time) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `
		SELECT project_id FROM acl_entries
		WHERE principal_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, principalID, now)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list projects for principal", err)
	}
	return ids, nil
}

func (r *PostgresACLRepository) PrincipalsFor(ctx context.Context, projectID int, now time.Time) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `
		SELECT principal_id FROM acl_entries
		WHERE project_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, projectID, now)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list principals for project", err)
	}
	return ids, nil
}

// PostgresPolicyRepository loads the policy chain table.
type PostgresPolicyRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresPolicyRepository(db *sqlx.DB, log *zap.Logger) *PostgresPolicyRepository {
	return &PostgresPolicyRepository{db: db, log: log}
}

func (r *PostgresPolicyRepository) ListEnabled(ctx context.Context) ([]models.Policy, error) {
	var rows []struct {
		ID        int64     `db:"id"`
		Name      string    `db:"name"`
		Type      string    `db:"type"`
		Rules     []byte    `db:"rules"`
		Enabled   bool      `db:"enabled"`
		Priority  int       `db:"priority"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, name, type, rules, enabled, priority, updated_at FROM policies
		WHERE enabled = true ORDER BY priority DESC`)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list enabled policies", err)
	}
	out := make([]models.Policy, 0, len(rows))
	for _, row := range rows {
		var rules map[string]any
		if err := json.Unmarshal(row.Rules, &rules); err != nil {
			r.log.Warn("skipping policy with invalid rules json", zap.Int64("policy_id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, models.Policy{
			ID: row.ID, Name: row.Name, Type: models.PolicyType(row.Type),
			Rules: rules, Enabled: row.Enabled, Priority: row.Priority, UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

func (r *PostgresPolicyRepository) Get(ctx context.Context, id int64) (*models.Policy, error) {
	var row struct {
		ID        int64     `db:"id"`
		Name      string    `db:"name"`
		Type      string    `db:"type"`
		Rules     []byte    `db:"rules"`
		Enabled   bool      `db:"enabled"`
		Priority  int       `db:"priority"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT id, name, type, rules, enabled, priority, updated_at FROM policies WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get policy", err)
	}
	var rules map[string]any
	if err := json.Unmarshal(row.Rules, &rules); err != nil {
		return nil, govplaneerrors.ParseError("policy rules", "json", err)
	}
	return &models.Policy{ID: row.ID, Name: row.Name, Type: models.PolicyType(row.Type), Rules: rules, Enabled: row.Enabled, Priority: row.Priority, UpdatedAt: row.UpdatedAt}, nil
}

func (r *PostgresPolicyRepository) Upsert(ctx context.Context, p *models.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return govplaneerrors.ParseError("policy rules", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, type, rules, enabled, priority, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
		    rules = EXCLUDED.rules, enabled = EXCLUDED.enabled, priority = EXCLUDED.priority, updated_at = now()`,
		p.ID, p.Name, p.Type, rules, p.Enabled, p.Priority)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert policy", err)
	}
	return nil
}

// PostgresRateCounterRepository persists fixed-window rate counters.
type PostgresRateCounterRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresRateCounterRepository(db *sqlx.DB, log *zap.Logger) *PostgresRateCounterRepository {
	return &PostgresRateCounterRepository{db: db, log: log}
}

func (r *PostgresRateCounterRepository) Get(ctx context.Context, principalID int, endpoint string) (*models.RateCounter, error) {
	var c models.RateCounter
	err := r.db.GetContext(ctx, &c, `
		SELECT principal_id, endpoint, limit_value, window_seconds, current_count, window_start
		FROM rate_counters WHERE principal_id = $1 AND endpoint = $2`, principalID, endpoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get rate counter", err)
	}
	return &c, nil
}

func (r *PostgresRateCounterRepository) Upsert(ctx context.Context, c *models.RateCounter) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_counters (principal_id, endpoint, limit_value, window_seconds, current_count, window_start)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (principal_id, endpoint) DO UPDATE
		SET limit_value = EXCLUDED.limit_value, window_seconds = EXCLUDED.window_seconds,
		    current_count = EXCLUDED.current_count, window_start = EXCLUDED.window_start`,
		c.PrincipalID, c.Endpoint, c.Limit, c.WindowSeconds, c.CurrentCount, c.WindowStart)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert rate counter", err)
	}
	return nil
}

func (r *PostgresRateCounterRepository) Reset(ctx context.Context, principalID int, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rate_counters SET current_count = 0, window_start = now()
		WHERE principal_id = $1 AND endpoint = $2`, principalID, endpoint)
	if err != nil {
		return govplaneerrors.DatabaseError("reset rate counter", err)
	}
	return nil
}

func (r *PostgresRateCounterRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE window_start < $1`, olderThan)
	if err != nil {
		return 0, govplaneerrors.DatabaseError("cleanup rate counters", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PostgresPatternRepository lists enabled scanner patterns.
type PostgresPatternRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresPatternRepository(db *sqlx.DB, log *zap.Logger) *PostgresPatternRepository {
	return &PostgresPatternRepository{db: db, log: log}
}

func (r *PostgresPatternRepository) ListEnabled(ctx context.Context) ([]models.ProhibitedPattern, error) {
	var patterns []models.ProhibitedPattern
	err := r.db.SelectContext(ctx, &patterns, `
		SELECT id, type, regex, severity, enabled, description
		FROM prohibited_patterns WHERE enabled = true`)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list enabled patterns", err)
	}
	return patterns, nil
}
