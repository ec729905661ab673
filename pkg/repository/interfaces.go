// Package repository abstracts persistence for every subsystem behind
// narrow interfaces, so the policy engine, hydration pipeline, linking
// engine, and regression guard never hold a *sqlx.DB directly.
package repository

import (
	"context"
	"time"

	"github.com/govplane/backplane/pkg/models"
)

// PrincipalRepository resolves principals by id for ACL/PDP checks.
type PrincipalRepository interface {
	Get(ctx context.Context, id int) (*models.Principal, error)
	Exists(ctx context.Context, id int) (bool, error)
}

// ACLRepository persists (principal, project) grants.
type ACLRepository interface {
	Upsert(ctx context.Context, entry *models.ACLEntry) error
	Get(ctx context.Context, principalID, projectID int) (*models.ACLEntry, error)
	Delete(ctx context.Context, principalID, projectID int) (bool, error)
	ProjectsFor(ctx context.Context, principalID int, now time.Time) ([]int, error)
	PrincipalsFor(ctx context.Context, projectID int, now time.Time) ([]int, error)
}

// PolicyRepository lists the policy chain, priority descending.
type PolicyRepository interface {
	ListEnabled(ctx context.Context) ([]models.Policy, error)
	Get(ctx context.Context, id int64) (*models.Policy, error)
	Upsert(ctx context.Context, p *models.Policy) error
}

// RateCounterRepository implements the fixed-window counter store (§4.1).
type RateCounterRepository interface {
	Get(ctx context.Context, principalID int, endpoint string) (*models.RateCounter, error)
	Upsert(ctx context.Context, c *models.RateCounter) error
	Reset(ctx context.Context, principalID int, endpoint string) error
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// PatternRepository lists enabled content-scanner patterns.
type PatternRepository interface {
	ListEnabled(ctx context.Context) ([]models.ProhibitedPattern, error)
}

// AuditRepository is the append-only decision log.
type AuditRepository interface {
	Log(ctx context.Context, r *models.AuditRecord) error
	Query(ctx context.Context, f AuditFilter) ([]models.AuditRecord, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// AuditFilter narrows an audit Query call; zero values mean "no filter".
type AuditFilter struct {
	PrincipalID  *int
	Action       string
	ResourceType string
	Decision     models.Decision
	From, To     time.Time
	Limit        int
}

// WorkspaceSourceRepository CRUDs configured document origins.
type WorkspaceSourceRepository interface {
	ListEnabled(ctx context.Context, workspaceID string, sourceIDs []int64) ([]models.WorkspaceSource, error)
	Get(ctx context.Context, id int64) (*models.WorkspaceSource, error)
}

// HydrationStateRepository tracks per-source incremental progress.
type HydrationStateRepository interface {
	Get(ctx context.Context, sourceID int64) (*models.HydrationState, error)
	Upsert(ctx context.Context, s *models.HydrationState) error
	DueForPoll(ctx context.Context, now time.Time) ([]models.HydrationState, error)
}

// DocumentRepository manages the workspace-document catalog.
type DocumentRepository interface {
	GetBySourceDocumentID(ctx context.Context, workspaceID, sourceType, sourceDocumentID string) (*models.Document, error)
	Upsert(ctx context.Context, d *models.Document) (*models.Document, error)
	MarkDeleted(ctx context.Context, documentID int64) error
}

// DocumentVersionRepository manages checksum-gated document revisions.
type DocumentVersionRepository interface {
	Latest(ctx context.Context, documentID int64) (*models.DocumentVersion, error)
	Create(ctx context.Context, v *models.DocumentVersion) (*models.DocumentVersion, error)
	Update(ctx context.Context, v *models.DocumentVersion) error
}

// HydrationRunRepository CRUDs hydration run records and their items.
type HydrationRunRepository interface {
	Create(ctx context.Context, r *models.HydrationRun) (*models.HydrationRun, error)
	Update(ctx context.Context, r *models.HydrationRun) error
	Get(ctx context.Context, id int64) (*models.HydrationRun, error)
	AddItem(ctx context.Context, item *models.RunItem) error
	ListItems(ctx context.Context, runID int64) ([]models.RunItem, error)
}

// HydrationAlertRepository CRUDs hydration alerts.
type HydrationAlertRepository interface {
	Create(ctx context.Context, a *models.HydrationAlert) (*models.HydrationAlert, error)
	Acknowledge(ctx context.Context, id int64, by int) error
}

// EntityRepository persists ULE entities, keyed by stable id.
type EntityRepository interface {
	Upsert(ctx context.Context, e *models.Entity) error
	Get(ctx context.Context, id string) (*models.Entity, error)
	ListByDocument(ctx context.Context, documentID int64) ([]models.Entity, error)
	ListByType(ctx context.Context, entityType string) ([]models.Entity, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

// LinkRepository persists ULE links.
type LinkRepository interface {
	Create(ctx context.Context, l *models.Link) error
	Get(ctx context.Context, uuid string) (*models.Link, error)
	ListByEntity(ctx context.Context, entityID string) ([]models.Link, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

// PromotionRepository CRUDs regression promotion requests and checks.
type PromotionRepository interface {
	Create(ctx context.Context, r *models.PromotionRequest) (*models.PromotionRequest, error)
	Get(ctx context.Context, id int64) (*models.PromotionRequest, error)
	UpdateStatus(ctx context.Context, id int64, status models.PromotionStatus, approvedBy *int) error
	List(ctx context.Context, component models.RegressionComponent) ([]models.PromotionRequest, error)
	AddCheck(ctx context.Context, c *models.RegressionCheck) error
	LatestCheck(ctx context.Context, requestID int64) (*models.RegressionCheck, error)
	GetThresholds(ctx context.Context, component models.RegressionComponent) (*models.RegressionThresholds, error)
	UpsertThresholds(ctx context.Context, t *models.RegressionThresholds) error
	GetCurrentVersion(ctx context.Context, component models.RegressionComponent) (*models.CurrentComponentVersion, error)
	SwapCurrentVersion(ctx context.Context, component models.RegressionComponent, tag string) error
}
