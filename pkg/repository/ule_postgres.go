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

// PostgresEntityRepository persists ULE entities keyed by stable id, so
// re-running process_document never creates duplicates (§4.8).
type PostgresEntityRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresEntityRepository(db *sqlx.DB, log *zap.Logger) *PostgresEntityRepository {
	return &PostgresEntityRepository{db: db, log: log}
}

func (r *PostgresEntityRepository) Upsert(ctx context.Context, e *models.Entity) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return govplaneerrors.ParseError("entity metadata", "json", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ule_entities (id, type, text, document_id, section, project_id, metadata, embedding_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET type = EXCLUDED.type, text = EXCLUDED.text, document_id = EXCLUDED.document_id,
		    section = EXCLUDED.section, project_id = EXCLUDED.project_id,
		    metadata = EXCLUDED.metadata, embedding_ref = EXCLUDED.embedding_ref`,
		e.ID, e.Type, e.Text, e.DocumentID, e.Section, e.ProjectID, meta, e.EmbeddingRef)
	if err != nil {
		return govplaneerrors.DatabaseError("upsert entity", err)
	}
	return nil
}

func (r *PostgresEntityRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	e, err := r.scanOne(ctx, `SELECT id, type, text, document_id, section, project_id, metadata, embedding_ref FROM ule_entities WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *PostgresEntityRepository) ListByDocument(ctx context.Context, documentID int64) ([]models.Entity, error) {
	return r.scanMany(ctx, `SELECT id, type, text, document_id, section, project_id, metadata, embedding_ref FROM ule_entities WHERE document_id = $1`, documentID)
}

func (r *PostgresEntityRepository) ListByType(ctx context.Context, entityType string) ([]models.Entity, error) {
	return r.scanMany(ctx, `SELECT id, type, text, document_id, section, project_id, metadata, embedding_ref FROM ule_entities WHERE type = $1`, entityType)
}

func (r *PostgresEntityRepository) CountByType(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT type, count(*) AS count FROM ule_entities GROUP BY type`); err != nil {
		return nil, govplaneerrors.DatabaseError("count entities by type", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Count
	}
	return out, nil
}

func (r *PostgresEntityRepository) scanOne(ctx context.Context, query string, args ...any) (*models.Entity, error) {
	var row struct {
		ID           string  `db:"id"`
		Type         string  `db:"type"`
		Text         string  `db:"text"`
		DocumentID   *int64  `db:"document_id"`
		Section      *string `db:"section"`
		ProjectID    *int    `db:"project_id"`
		Metadata     []byte  `db:"metadata"`
		EmbeddingRef *string `db:"embedding_ref"`
	}
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, govplaneerrors.DatabaseError("get entity", err)
	}
	e := &models.Entity{ID: row.ID, Type: row.Type, Text: row.Text, DocumentID: row.DocumentID, Section: row.Section, ProjectID: row.ProjectID, EmbeddingRef: row.EmbeddingRef}
	_ = json.Unmarshal(row.Metadata, &e.Metadata)
	return e, nil
}

func (r *PostgresEntityRepository) scanMany(ctx context.Context, query string, args ...any) ([]models.Entity, error) {
	var rows []struct {
		ID           string  `db:"id"`
		Type         string  `db:"type"`
		Text         string  `db:"text"`
		DocumentID   *int64  `db:"document_id"`
		Section      *string `db:"section"`
		ProjectID    *int    `db:"project_id"`
		Metadata     []byte  `db:"metadata"`
		EmbeddingRef *string `db:"embedding_ref"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, govplaneerrors.DatabaseError("list entities", err)
	}
	out := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		e := models.Entity{ID: row.ID, Type: row.Type, Text: row.Text, DocumentID: row.DocumentID, Section: row.Section, ProjectID: row.ProjectID, EmbeddingRef: row.EmbeddingRef}
		_ = json.Unmarshal(row.Metadata, &e.Metadata)
		out = append(out, e)
	}
	return out, nil
}

// PostgresLinkRepository persists ULE links and their evidence trail.
type PostgresLinkRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresLinkRepository(db *sqlx.DB, log *zap.Logger) *PostgresLinkRepository {
	return &PostgresLinkRepository{db: db, log: log}
}

func (r *PostgresLinkRepository) Create(ctx context.Context, l *models.Link) error {
	evidence, err := json.Marshal(l.Evidence)
	if err != nil {
		return govplaneerrors.ParseError("link evidence", "json", err)
	}
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return govplaneerrors.ParseError("link metadata", "json", err)
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ule_links (uuid, source_entity, target_entity, link_type, confidence, evidence, pack_name, validated, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.UUID, l.SourceEntity, l.TargetEntity, l.LinkType, l.Confidence, evidence, l.PackName, l.Validated, meta, l.CreatedAt)
	if err != nil {
		return govplaneerrors.DatabaseError("create link", err)
	}
	return nil
}

func (r *PostgresLinkRepository) Get(ctx context.Context, uuid string) (*models.Link, error) {
	var row struct {
		UUID         string    `db:"uuid"`
		SourceEntity string    `db:"source_entity"`
		TargetEntity string    `db:"target_entity"`
		LinkType     string    `db:"link_type"`
		Confidence   float64   `db:"confidence"`
		Evidence     []byte    `db:"evidence"`
		PackName     string    `db:"pack_name"`
		Validated    bool      `db:"validated"`
		Metadata     []byte    `db:"metadata"`
		CreatedAt    time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT uuid, source_entity, target_entity, link_type, confidence, evidence, pack_name, validated, metadata, created_at
		FROM ule_links WHERE uuid = $1`, uuid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.DatabaseError("get link", err)
	}
	l := &models.Link{
		UUID: row.UUID, SourceEntity: row.SourceEntity, TargetEntity: row.TargetEntity, LinkType: row.LinkType,
		Confidence: row.Confidence, PackName: row.PackName, Validated: row.Validated, CreatedAt: row.CreatedAt,
	}
	_ = json.Unmarshal(row.Evidence, &l.Evidence)
	_ = json.Unmarshal(row.Metadata, &l.Metadata)
	return l, nil
}

func (r *PostgresLinkRepository) ListByEntity(ctx context.Context, entityID string) ([]models.Link, error) {
	var rows []struct {
		UUID         string    `db:"uuid"`
		SourceEntity string    `db:"source_entity"`
		TargetEntity string    `db:"target_entity"`
		LinkType     string    `db:"link_type"`
		Confidence   float64   `db:"confidence"`
		Evidence     []byte    `db:"evidence"`
		PackName     string    `db:"pack_name"`
		Validated    bool      `db:"validated"`
		Metadata     []byte    `db:"metadata"`
		CreatedAt    time.Time `db:"created_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT uuid, source_entity, target_entity, link_type, confidence, evidence, pack_name, validated, metadata, created_at
		FROM ule_links WHERE source_entity = $1 OR target_entity = $1`, entityID)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("list links by entity", err)
	}
	out := make([]models.Link, 0, len(rows))
	for _, row := range rows {
		l := models.Link{
			UUID: row.UUID, SourceEntity: row.SourceEntity, TargetEntity: row.TargetEntity, LinkType: row.LinkType,
			Confidence: row.Confidence, PackName: row.PackName, Validated: row.Validated, CreatedAt: row.CreatedAt,
		}
		_ = json.Unmarshal(row.Evidence, &l.Evidence)
		_ = json.Unmarshal(row.Metadata, &l.Metadata)
		out = append(out, l)
	}
	return out, nil
}

func (r *PostgresLinkRepository) CountByType(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		LinkType string `db:"link_type"`
		Count    int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT link_type, count(*) AS count FROM ule_links GROUP BY link_type`); err != nil {
		return nil, govplaneerrors.DatabaseError("count links by type", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.LinkType] = row.Count
	}
	return out, nil
}
