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

// PostgresWorkspaceSourceRepository reads the workspace_sources table.
type PostgresWorkspaceSourceRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresWorkspaceSourceRepository(db *sqlx.DB, log *zap.Logger) *PostgresWorkspaceSourceRepository {
	return &PostgresWorkspaceSourceRepository{db: db, log: log}
}

func (r *PostgresWorkspaceSourceRepository) ListEnabled(ctx context.Context, workspaceID string, sourceIDs []int64) ([]models.WorkspaceSource, error) {
	var rows []struct {
		ID          int64  `db:"id"`
		WorkspaceID string `db:"workspace_id"`
		SourceType  string `db:"source_type"`
		Name        string `db:"name"`
		Config      []byte `db:"config"`
		SecretsRef  *string `db:"secrets_ref"`
		Enabled     bool   `db:"enabled"`
	}
	query := `SELECT id, workspace_id, source_type, name, config, secrets_ref, enabled
		FROM workspace_sources WHERE workspace_id = $1 AND enabled = true`
	args := []any{workspaceID}
	if len(sourceIDs) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, sourceIDs)
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, govplaneerrors.DatabaseError("list enabled workspace sources", err)
	}
	out := make([]models.WorkspaceSource, 0, len(rows))
	for _, row := range rows {
		var cfg map[string]any
		if len(row.Config) > 0 {
			if err := json.Unmarshal(row.Config, &cfg); err != nil {
				r.log.Warn("skipping source with invalid config json", zap.Int64("source_id", row.ID), zap.Error(err))
				continue
			}
		}
		out = append(out, models.WorkspaceSource{
			ID: row.ID, WorkspaceID: row.WorkspaceID, SourceType: row.SourceType,
			Name: row.Name, Config: cfg, SecretsRef: row.SecretsRef, Enabled: row.Enabled,
		})
	}
	return out, nil
}

func (r *PostgresWorkspaceSourceRepository) Get(ctx context.Context, id int64) (*models.WorkspaceSource, error) {
	var row struct {
		ID          int64   `db:"id"`
		WorkspaceID string  `db:"workspace_id"`
		SourceType  string  `db:"source_type"`
		Name        string  `db:"name"`
		Config      []byte  `db:"config"`
		SecretsRef  *string `db:"secrets_ref"`
		Enabled     bool    `db:"enabled"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT id, workspace_id, source_type, name, config, secrets_ref, enabled FROM workspace_sources WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get workspace source", err)
	}
	var cfg map[string]any
	if len(row.Config) > 0 {
		_ = json.Unmarshal(row.Config, &cfg)
	}
	return &models.WorkspaceSource{ID: row.ID, WorkspaceID: row.WorkspaceID, SourceType: row.SourceType, Name: row.Name, Config: cfg, SecretsRef: row.SecretsRef, Enabled: row.Enabled}, nil
}

// PostgresHydrationStateRepository tracks per-source cursors and status.
type PostgresHydrationStateRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresHydrationStateRepository(db *sqlx.DB, log *zap.Logger) *PostgresHydrationStateRepository {
	return &PostgresHydrationStateRepository{db: db, log: log}
}

func (r *PostgresHydrationStateRepository) Get(ctx context.Context, sourceID int64) (*models.HydrationState, error) {
	var s models.HydrationState
	err := r.db.GetContext(ctx, &s, `
		SELECT source_id, cursor, last_run_at, next_run_at, status, last_error, consecutive_failures
		FROM hydration_states WHERE source_id = $1`, sourceID)
	if err == sql.ErrNoRows {
		return &models.HydrationState{SourceID: sourceID, Status: models.HydrationIdle}, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get hydration state", err)
	}
	return &s, nil
}

func (r *PostgresHydrationStateRepository) Upsert(ctx context.Context, s *models.HydrationState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hydration_states (source_id, cursor, last_run_at, next_run_at, status, last_error, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id) DO UPDATE
		SET cursor = EXCLUDED.cursor, last_run_at = EXCLUDED.last_run_at, next_run_at = EXCLUDED.next_run_at,
		    status = EXCLUDED.status, last_error = EXCLUDED.last_error, consecutive_failures = EXCLUDED.consecutive_failures`,
		s.SourceID, s.Cursor, s.LastRunAt, s.NextRunAt, s.Status, s.LastError, s.ConsecutiveFailures)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert hydration state", err)
	}
	return nil
}

func (r *PostgresHydrationStateRepository) DueForPoll(ctx context.Context, now time.Time) ([]models.HydrationState, error) {
	var states []models.HydrationState
	err := r.db.SelectContext(ctx, &states, `
		SELECT source_id, cursor, last_run_at, next_run_at, status, last_error, consecutive_failures
		FROM hydration_states WHERE next_run_at IS NOT NULL AND next_run_at <= $1`, now)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list due hydration states", err)
	}
	return states, nil
}

// PostgresDocumentRepository upserts the document catalog, unique by
// (workspace_id, source_type, source_document_id).
type PostgresDocumentRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresDocumentRepository(db *sqlx.DB, log *zap.Logger) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{db: db, log: log}
}

func (r *PostgresDocumentRepository) GetBySourceDocumentID(ctx context.Context, workspaceID, sourceType, sourceDocumentID string) (*models.Document, error) {
	var d models.Document
	err := r.db.GetContext(ctx, &d, `
		SELECT id, workspace_id, source_type, source_document_id, source_path, name, mime, size,
		       modified_time, checksum, doc_type, ingestion_status
		FROM documents WHERE workspace_id = $1 AND source_type = $2 AND source_document_id = $3`,
		workspaceID, sourceType, sourceDocumentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get document by source id", err)
	}
	return &d, nil
}

func (r *PostgresDocumentRepository) Upsert(ctx context.Context, d *models.Document) (*models.Document, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO documents (workspace_id, source_type, source_document_id, source_path, name, mime, size,
		                        modified_time, checksum, doc_type, ingestion_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workspace_id, source_type, source_document_id) DO UPDATE
		SET source_path = EXCLUDED.source_path, name = EXCLUDED.name, mime = EXCLUDED.mime,
		    size = EXCLUDED.size, modified_time = EXCLUDED.modified_time, checksum = EXCLUDED.checksum,
		    doc_type = EXCLUDED.doc_type, ingestion_status = EXCLUDED.ingestion_status
		RETURNING id`,
		d.WorkspaceID, d.SourceType, d.SourceDocumentID, d.SourcePath, d.Name, d.MIME, d.Size,
		d.ModifiedTime, d.Checksum, d.DocType, d.IngestionStatus).Scan(&id)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("upsert document", err)
	}
	d.ID = id
	return d, nil
}

func (r *PostgresDocumentRepository) MarkDeleted(ctx context.Context, documentID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET ingestion_status = $1 WHERE id = $2`, models.IngestionSkipped, documentID)
	if err != nil {
		return govplaneerrors.DatabaseError("mark document deleted", err)
	}
	return nil
}

// PostgresDocumentVersionRepository manages checksum-gated revisions.
type PostgresDocumentVersionRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresDocumentVersionRepository(db *sqlx.DB, log *zap.Logger) *PostgresDocumentVersionRepository {
	return &PostgresDocumentVersionRepository{db: db, log: log}
}

func (r *PostgresDocumentVersionRepository) Latest(ctx context.Context, documentID int64) (*models.DocumentVersion, error) {
	var row struct {
		ID                  int64          `db:"id"`
		DocumentID          int64          `db:"document_id"`
		VersionNum          int            `db:"version_num"`
		ModifiedTime        *time.Time     `db:"modified_time"`
		Checksum            string         `db:"checksum"`
		RawBlobRef          *string        `db:"raw_blob_ref"`
		ExtractedText       *string        `db:"extracted_text"`
		ExtractedStructured []byte         `db:"extracted_structured"`
		ChunkCount          int            `db:"chunk_count"`
		EmbeddingStatus     string         `db:"embedding_status"`
		IndexStatus         string         `db:"index_status"`
		LinkStatus          string         `db:"link_status"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, document_id, version_num, modified_time, checksum, raw_blob_ref, extracted_text,
		       extracted_structured, chunk_count, embedding_status, index_status, link_status
		FROM document_versions WHERE document_id = $1 ORDER BY version_num DESC LIMIT 1`, documentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get latest document version", err)
	}
	v := &models.DocumentVersion{
		ID: row.ID, DocumentID: row.DocumentID, VersionNum: row.VersionNum, ModifiedTime: row.ModifiedTime,
		Checksum: row.Checksum, RawBlobRef: row.RawBlobRef, ExtractedText: row.ExtractedText,
		ChunkCount: row.ChunkCount, EmbeddingStatus: row.EmbeddingStatus, IndexStatus: row.IndexStatus, LinkStatus: row.LinkStatus,
	}
	if len(row.ExtractedStructured) > 0 {
		_ = json.Unmarshal(row.ExtractedStructured, &v.ExtractedStructured)
	}
	return v, nil
}

func (r *PostgresDocumentVersionRepository) Create(ctx context.Context, v *models.DocumentVersion) (*models.DocumentVersion, error) {
	structured, err := json.Marshal(v.ExtractedStructured)
	if err != nil {
		return nil, govplaneerrors.ParseError("document version structured data", "json", err)
	}
	var id int64
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO document_versions (document_id, version_num, modified_time, checksum, raw_blob_ref,
		                                extracted_text, extracted_structured, chunk_count, embedding_status, index_status, link_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		v.DocumentID, v.VersionNum, v.ModifiedTime, v.Checksum, v.RawBlobRef, v.ExtractedText, structured,
		v.ChunkCount, v.EmbeddingStatus, v.IndexStatus, v.LinkStatus).Scan(&id)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("create document version", err)
	}
	v.ID = id
	return v, nil
}

func (r *PostgresDocumentVersionRepository) Update(ctx context.Context, v *models.DocumentVersion) error {
	structured, err := json.Marshal(v.ExtractedStructured)
	if err != nil {
		return govplaneerrors.ParseError("document version structured data", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE document_versions
		SET extracted_text = $1, extracted_structured = $2, chunk_count = $3,
		    embedding_status = $4, index_status = $5, link_status = $6
		WHERE id = $7`,
		v.ExtractedText, structured, v.ChunkCount, v.EmbeddingStatus, v.IndexStatus, v.LinkStatus, v.ID)
	if err != nil {
		return govplaneerrors.DatabaseError("update document version", err)
	}
	return nil
}

// PostgresHydrationRunRepository CRUDs runs and their per-item records.
type PostgresHydrationRunRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresHydrationRunRepository(db *sqlx.DB, log *zap.Logger) *PostgresHydrationRunRepository {
	return &PostgresHydrationRunRepository{db: db, log: log}
}

func (r *PostgresHydrationRunRepository) Create(ctx context.Context, run *models.HydrationRun) (*models.HydrationRun, error) {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, govplaneerrors.ParseError("run counters", "json", err)
	}
	var id int64
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO hydration_runs (workspace_id, started_at, trigger, status, counters)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		run.WorkspaceID, run.StartedAt, run.Trigger, run.Status, counters).Scan(&id)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("create hydration run", err)
	}
	run.ID = id
	return run, nil
}

func (r *PostgresHydrationRunRepository) Update(ctx context.Context, run *models.HydrationRun) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return govplaneerrors.ParseError("run counters", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE hydration_runs SET finished_at = $1, status = $2, counters = $3, error_summary = $4
		WHERE id = $5`, run.FinishedAt, run.Status, counters, run.ErrorSummary, run.ID)
	if err != nil {
		return govplaneerrors.DatabaseError("update hydration run", err)
	}
	return nil
}

func (r *PostgresHydrationRunRepository) Get(ctx context.Context, id int64) (*models.HydrationRun, error) {
	var row struct {
		ID           int64      `db:"id"`
		WorkspaceID  string     `db:"workspace_id"`
		StartedAt    time.Time  `db:"started_at"`
		FinishedAt   *time.Time `db:"finished_at"`
		Trigger      string     `db:"trigger"`
		Status       string     `db:"status"`
		Counters     []byte     `db:"counters"`
		ErrorSummary *string    `db:"error_summary"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, workspace_id, started_at, finished_at, trigger, status, counters, error_summary
		FROM hydration_runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get hydration run", err)
	}
	run := &models.HydrationRun{
		ID: row.ID, WorkspaceID: row.WorkspaceID, StartedAt: row.StartedAt, FinishedAt: row.FinishedAt,
		Trigger: models.RunTrigger(row.Trigger), Status: models.RunStatus(row.Status), ErrorSummary: row.ErrorSummary,
	}
	_ = json.Unmarshal(row.Counters, &run.Counters)
	return run, nil
}

func (r *PostgresHydrationRunRepository) AddItem(ctx context.Context, item *models.RunItem) error {
	detail, err := json.Marshal(item.Detail)
	if err != nil {
		return govplaneerrors.ParseError("run item detail", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO hydration_run_items (run_id, document_id, action, status, duration_ms, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.RunID, item.DocumentID, item.Action, item.Status, item.Duration.Milliseconds(), detail)
	if err != nil {
		return govplaneerrors.DatabaseError("add hydration run item", err)
	}
	return nil
}

func (r *PostgresHydrationRunRepository) ListItems(ctx context.Context, runID int64) ([]models.RunItem, error) {
	var rows []struct {
		ID         int64  `db:"id"`
		RunID      int64  `db:"run_id"`
		DocumentID *int64 `db:"document_id"`
		Action     string `db:"action"`
		Status     string `db:"status"`
		DurationMs int64  `db:"duration_ms"`
		Detail     []byte `db:"detail"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, document_id, action, status, duration_ms, detail
		FROM hydration_run_items WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list hydration run items", err)
	}
	out := make([]models.RunItem, 0, len(rows))
	for _, row := range rows {
		item := models.RunItem{
			ID: row.ID, RunID: row.RunID, DocumentID: row.DocumentID,
			Action: models.ItemAction(row.Action), Status: row.Status,
			Duration: time.Duration(row.DurationMs) * time.Millisecond,
		}
		_ = json.Unmarshal(row.Detail, &item.Detail)
		out = append(out, item)
	}
	return out, nil
}

// PostgresHydrationAlertRepository CRUDs workspace alerts.
type PostgresHydrationAlertRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresHydrationAlertRepository(db *sqlx.DB, log *zap.Logger) *PostgresHydrationAlertRepository {
	return &PostgresHydrationAlertRepository{db: db, log: log}
}

func (r *PostgresHydrationAlertRepository) Create(ctx context.Context, a *models.HydrationAlert) (*models.HydrationAlert, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO hydration_alerts (workspace_id, severity, category, message, run_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.WorkspaceID, a.Severity, a.Category, a.Message, a.RunID, a.IsActive, a.CreatedAt).Scan(&id)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("create hydration alert", err)
	}
	a.ID = id
	return a, nil
}

func (r *PostgresHydrationAlertRepository) Acknowledge(ctx context.Context, id int64, by int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE hydration_alerts SET is_active = false, acknowledged_at = now(), acknowledged_by = $1 WHERE id = $2`,
		by, id)
	if err != nil {
		return govplaneerrors.DatabaseError("acknowledge hydration alert", err)
	}
	return nil
}
