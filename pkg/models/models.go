// Package models holds the persistence-level data model shared by every
// subsystem: principals, ACLs, policies, rate counters, audit records,
// hydration state, ULE entities/links, and regression promotions.
package models

import (
	"time"
)

// Role is a principal's global role.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDirector      Role = "director"
	RoleEngineer      Role = "engineer"
	RoleCommercial    Role = "commercial"
	RoleSafetyOfficer Role = "safety_officer"
	RoleViewer        Role = "viewer"
)

// Permission is one action a role/ACL entry may authorize.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionExecute Permission = "execute"
	PermissionExport  Permission = "export"
	PermissionAll     Permission = "*"
)

// RolePermissions is the fixed role → permission expansion from §4.3.
var RolePermissions = map[Role][]Permission{
	RoleAdmin:         {PermissionAll},
	RoleDirector:      {PermissionRead, PermissionWrite, PermissionExecute, PermissionExport},
	RoleEngineer:      {PermissionRead, PermissionWrite, PermissionExecute},
	RoleCommercial:    {PermissionRead, PermissionWrite, PermissionExport},
	RoleSafetyOfficer: {PermissionRead, PermissionWrite},
	RoleViewer:        {PermissionRead},
}

// Principal is the identified acting subject.
type Principal struct {
	ID    int    `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Role  Role   `db:"role" json:"role"`
}

// ACLEntry grants a role (and optional permission override) to a
// principal for one project, with an optional expiry.
type ACLEntry struct {
	ID          int64        `db:"id" json:"id"`
	PrincipalID int          `db:"principal_id" json:"principal_id"`
	ProjectID   int          `db:"project_id" json:"project_id"`
	Role        Role         `db:"role" json:"role"`
	Permissions []Permission `db:"permissions" json:"permissions"`
	GrantedBy   *int         `db:"granted_by" json:"granted_by,omitempty"`
	GrantedAt   time.Time    `db:"granted_at" json:"granted_at"`
	ExpiresAt   *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
}

// Expired reports whether e should be treated as absent.
func (e *ACLEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// PolicyType selects which rule engine stage a Policy participates in.
type PolicyType string

const (
	PolicyTypeRBAC               PolicyType = "rbac"
	PolicyTypeABAC               PolicyType = "abac"
	PolicyTypeContent            PolicyType = "content"
	PolicyTypeRateLimit          PolicyType = "rate_limit"
	PolicyTypeDataClassification PolicyType = "data_classification"
	PolicyTypeTemporal           PolicyType = "temporal"
)

// Policy is one row of the policy chain table, evaluated priority
// descending, skipped entirely when Enabled is false.
type Policy struct {
	ID        int64          `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Type      PolicyType     `db:"type" json:"type"`
	Rules     map[string]any `db:"rules" json:"rules"`
	Enabled   bool           `db:"enabled" json:"enabled"`
	Priority  int            `db:"priority" json:"priority"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// RateCounter is one fixed-window counter for (principal, endpoint).
type RateCounter struct {
	PrincipalID   int       `db:"principal_id" json:"principal_id"`
	Endpoint      string    `db:"endpoint" json:"endpoint"`
	Limit         int       `db:"limit_value" json:"limit"`
	WindowSeconds int       `db:"window_seconds" json:"window_seconds"`
	CurrentCount  int       `db:"current_count" json:"current_count"`
	WindowStart   time.Time `db:"window_start" json:"window_start"`
}

// PatternSeverity ranks a ProhibitedPattern or scan violation.
type PatternSeverity string

const (
	SeverityLow      PatternSeverity = "low"
	SeverityMedium   PatternSeverity = "medium"
	SeverityHigh     PatternSeverity = "high"
	SeverityCritical PatternSeverity = "critical"
)

var severityRank = map[PatternSeverity]int{
	SeverityLow:      0,
	SeverityMedium:    1,
	SeverityHigh:      2,
	SeverityCritical:  3,
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b PatternSeverity) PatternSeverity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// ProhibitedPattern is one regex-based content rule, compiled lazily
// by the scanner; an invalid regex is ignored with a warning rather
// than failing the scan.
type ProhibitedPattern struct {
	ID          int64           `db:"id" json:"id"`
	Type        string          `db:"type" json:"type"`
	Regex       string          `db:"regex" json:"regex"`
	Severity    PatternSeverity `db:"severity" json:"severity"`
	Enabled     bool            `db:"enabled" json:"enabled"`
	Description string          `db:"description" json:"description"`
}

// Decision is a PDP or audit terminal outcome.
type Decision string

const (
	DecisionAllow            Decision = "allow"
	DecisionDeny             Decision = "deny"
	DecisionRateLimitExceeded Decision = "rate_limit_exceeded"
)

// AuditRecord is one append-only row of the decision log.
type AuditRecord struct {
	ID           int64          `db:"id" json:"id"`
	PrincipalID  *int           `db:"principal_id" json:"principal_id,omitempty"`
	Action       string         `db:"action" json:"action"`
	ResourceType *string        `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string        `db:"resource_id" json:"resource_id,omitempty"`
	Decision     Decision       `db:"decision" json:"decision"`
	Metadata     map[string]any `db:"metadata" json:"metadata,omitempty"`
	IP           *string        `db:"ip" json:"ip,omitempty"`
	Timestamp    time.Time      `db:"timestamp" json:"timestamp"`
}

// WorkspaceSource is one configured document origin within a workspace.
type WorkspaceSource struct {
	ID          int64          `db:"id" json:"id"`
	WorkspaceID string         `db:"workspace_id" json:"workspace_id"`
	SourceType  string         `db:"source_type" json:"source_type"`
	Name        string         `db:"name" json:"name"`
	Config      map[string]any `db:"config" json:"config"`
	SecretsRef  *string        `db:"secrets_ref" json:"secrets_ref,omitempty"`
	Enabled     bool           `db:"enabled" json:"enabled"`
}

// HydrationStatus is the per-source run state.
type HydrationStatus string

const (
	HydrationIdle    HydrationStatus = "idle"
	HydrationRunning HydrationStatus = "running"
	HydrationSuccess HydrationStatus = "success"
	HydrationFailed  HydrationStatus = "failed"
)

// HydrationState tracks one source's incremental progress.
type HydrationState struct {
	SourceID           int64           `db:"source_id" json:"source_id"`
	Cursor             *string         `db:"cursor" json:"cursor,omitempty"`
	LastRunAt          *time.Time      `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt          *time.Time      `db:"next_run_at" json:"next_run_at,omitempty"`
	Status             HydrationStatus `db:"status" json:"status"`
	LastError          *string         `db:"last_error" json:"last_error,omitempty"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"consecutive_failures"`
}

// IngestionStatus tracks a Document's progress through the pipeline.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionExtracted IngestionStatus = "extracted"
	IngestionIndexed   IngestionStatus = "indexed"
	IngestionLinked    IngestionStatus = "linked"
	IngestionSkipped   IngestionStatus = "skipped"
)

// Document is one workspace file, unique by (workspace, source_type,
// source_document_id).
type Document struct {
	ID               int64           `db:"id" json:"id"`
	WorkspaceID      string          `db:"workspace_id" json:"workspace_id"`
	SourceType       string          `db:"source_type" json:"source_type"`
	SourceDocumentID string          `db:"source_document_id" json:"source_document_id"`
	SourcePath       string          `db:"source_path" json:"source_path"`
	Name             string          `db:"name" json:"name"`
	MIME             string          `db:"mime" json:"mime"`
	Size             *int64          `db:"size" json:"size,omitempty"`
	ModifiedTime     *time.Time      `db:"modified_time" json:"modified_time,omitempty"`
	Checksum         string          `db:"checksum" json:"checksum"`
	DocType          string          `db:"doc_type" json:"doc_type"`
	IngestionStatus  IngestionStatus `db:"ingestion_status" json:"ingestion_status"`
}

// DocumentVersion is one checksum-distinct revision of a Document.
// version_num is monotonic and contiguous per document (invariant 2).
type DocumentVersion struct {
	ID                 int64           `db:"id" json:"id"`
	DocumentID         int64           `db:"document_id" json:"document_id"`
	VersionNum         int             `db:"version_num" json:"version_num"`
	ModifiedTime       *time.Time      `db:"modified_time" json:"modified_time,omitempty"`
	Checksum           string          `db:"checksum" json:"checksum"`
	RawBlobRef         *string         `db:"raw_blob_ref" json:"raw_blob_ref,omitempty"`
	ExtractedText      *string         `db:"extracted_text" json:"extracted_text,omitempty"`
	ExtractedStructured map[string]any `db:"extracted_structured" json:"extracted_structured,omitempty"`
	ChunkCount         int             `db:"chunk_count" json:"chunk_count"`
	EmbeddingStatus    string          `db:"embedding_status" json:"embedding_status"`
	IndexStatus        string          `db:"index_status" json:"index_status"`
	LinkStatus         string          `db:"link_status" json:"link_status"`
}

// RunTrigger is how a HydrationRun was started.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerAPI       RunTrigger = "api"
	TriggerRecovery  RunTrigger = "recovery"
)

// RunStatus is a HydrationRun's terminal (or in-flight) state.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunPartial RunStatus = "partial"
)

// RunCounters accumulates per-category item counts for one Run.
type RunCounters struct {
	Sources    int `json:"sources"`
	Seen       int `json:"seen"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Downloaded int `json:"downloaded"`
	Extracted  int `json:"extracted"`
	Indexed    int `json:"indexed"`
	Linked     int `json:"linked"`
	Failed     int `json:"failed"`
}

// HydrationRun is one hydrate_workspace invocation.
type HydrationRun struct {
	ID           int64       `db:"id" json:"id"`
	WorkspaceID  string      `db:"workspace_id" json:"workspace_id"`
	StartedAt    time.Time   `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	Trigger      RunTrigger  `db:"trigger" json:"trigger"`
	Status       RunStatus   `db:"status" json:"status"`
	Counters     RunCounters `db:"counters" json:"counters"`
	ErrorSummary *string     `db:"error_summary" json:"error_summary,omitempty"`
}

// ItemAction is what happened to one file during a Run.
type ItemAction string

const (
	ItemActionSkip   ItemAction = "skip"
	ItemActionNew    ItemAction = "new"
	ItemActionUpdate ItemAction = "update"
	ItemActionDelete ItemAction = "delete"
)

// RunItem records the outcome of processing one file within a Run.
type RunItem struct {
	ID         int64          `db:"id" json:"id"`
	RunID      int64          `db:"run_id" json:"run_id"`
	DocumentID *int64         `db:"document_id" json:"document_id,omitempty"`
	Action     ItemAction     `db:"action" json:"action"`
	Status     string         `db:"status" json:"status"`
	Duration   time.Duration  `db:"duration_ms" json:"duration_ms"`
	Detail     map[string]any `db:"detail" json:"detail,omitempty"`
}

// AlertCategory buckets HydrationAlerts for routing/escalation.
type AlertCategory string

const (
	AlertCategoryAuth       AlertCategory = "auth"
	AlertCategoryExtraction AlertCategory = "extraction"
	AlertCategoryIndexing   AlertCategory = "indexing"
	AlertCategoryULE        AlertCategory = "ule"
	AlertCategoryQuota      AlertCategory = "quota"
	AlertCategorySystem     AlertCategory = "system"
)

// HydrationAlert is one raised (and possibly acknowledged) condition.
type HydrationAlert struct {
	ID             int64           `db:"id" json:"id"`
	WorkspaceID    string          `db:"workspace_id" json:"workspace_id"`
	Severity       PatternSeverity `db:"severity" json:"severity"`
	Category       AlertCategory   `db:"category" json:"category"`
	Message        string          `db:"message" json:"message"`
	RunID          *int64          `db:"run_id" json:"run_id,omitempty"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	AcknowledgedAt *time.Time      `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy *int            `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
}

// Entity is one stable, typed unit of ULE content.
type Entity struct {
	ID            string         `db:"id" json:"id"`
	Type          string         `db:"type" json:"type"`
	Text          string         `db:"text" json:"text"`
	DocumentID    *int64         `db:"document_id" json:"document_id,omitempty"`
	Section       *string        `db:"section" json:"section,omitempty"`
	ProjectID     *int           `db:"project_id" json:"project_id,omitempty"`
	Metadata      map[string]any `db:"metadata" json:"metadata,omitempty"`
	EmbeddingRef  *string        `db:"embedding_ref" json:"embedding_ref,omitempty"`
}

// EvidenceType names one observation kind supporting a Link.
type EvidenceType string

const (
	EvidenceKeywordMatch      EvidenceType = "keyword_match"
	EvidenceSemanticSimilar   EvidenceType = "semantic_similarity"
	EvidenceCSICodeMatch      EvidenceType = "csi_code_match"
	EvidenceMaterialMatch     EvidenceType = "material_match"
	EvidenceQuantityReference EvidenceType = "quantity_reference"
	EvidenceClauseReference   EvidenceType = "clause_reference"
	EvidenceDrawingReference  EvidenceType = "drawing_reference"
	EvidenceCostCodeMatch     EvidenceType = "cost_code_match"
	EvidenceDateProximity     EvidenceType = "date_proximity"
	EvidenceRuleBased         EvidenceType = "rule_based"
)

// Evidence is one weighted observation backing a Link's confidence.
type Evidence struct {
	Type       EvidenceType   `json:"type"`
	Value      string         `json:"value"`
	Weight     float64        `json:"weight"`
	SourceText *string        `json:"source_text,omitempty"`
	TargetText *string        `json:"target_text,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Link is a typed, scored relationship between two entities.
type Link struct {
	UUID         string     `db:"uuid" json:"uuid"`
	SourceEntity string     `db:"source_entity" json:"source_entity"`
	TargetEntity string     `db:"target_entity" json:"target_entity"`
	LinkType     string     `db:"link_type" json:"link_type"`
	Confidence   float64    `db:"confidence" json:"confidence"`
	Evidence     []Evidence `db:"evidence" json:"evidence"`
	PackName     string     `db:"pack_name" json:"pack_name"`
	Validated    bool       `db:"validated" json:"validated"`
	Metadata     map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// PromotionStatus is a PromotionRequest's lifecycle state.
type PromotionStatus string

const (
	PromotionRequested PromotionStatus = "requested"
	PromotionRunning   PromotionStatus = "running"
	PromotionPass      PromotionStatus = "pass"
	PromotionFail      PromotionStatus = "fail"
	PromotionApproved  PromotionStatus = "approved"
	PromotionPromoted  PromotionStatus = "promoted"
)

// RegressionComponent is the closed set of promotable components (§4.9).
type RegressionComponent string

const (
	ComponentIntentRouter    RegressionComponent = "intent_router"
	ComponentToolRouter      RegressionComponent = "tool_router"
	ComponentULELinking      RegressionComponent = "ule_linking"
	ComponentPDPPolicies     RegressionComponent = "pdp_policies"
	ComponentPromptTemplates RegressionComponent = "prompt_templates"
)

// ValidRegressionComponents is the closed membership set for create_request.
var ValidRegressionComponents = map[RegressionComponent]bool{
	ComponentIntentRouter:    true,
	ComponentToolRouter:      true,
	ComponentULELinking:      true,
	ComponentPDPPolicies:     true,
	ComponentPromptTemplates: true,
}

// ComponentSuite maps each regression component to its evaluation suite.
var ComponentSuite = map[RegressionComponent]string{
	ComponentIntentRouter:    "intent_router_suite",
	ComponentToolRouter:      "tool_router_suite",
	ComponentULELinking:      "ule_linking_suite",
	ComponentPDPPolicies:     "pdp_policies_suite",
	ComponentPromptTemplates: "prompt_templates_suite",
}

// PromotionRequest is one candidate-vs-baseline promotion attempt.
type PromotionRequest struct {
	ID            int64               `db:"id" json:"id"`
	Component     RegressionComponent `db:"component" json:"component"`
	BaselineTag   string              `db:"baseline_tag" json:"baseline_tag"`
	CandidateTag  string              `db:"candidate_tag" json:"candidate_tag"`
	Status        PromotionStatus     `db:"status" json:"status"`
	WorkspaceID   *string             `db:"workspace_id" json:"workspace_id,omitempty"`
	RequestedBy   *int                `db:"requested_by" json:"requested_by,omitempty"`
	ApprovedBy    *int                `db:"approved_by" json:"approved_by,omitempty"`
	RequestedAt   time.Time           `db:"requested_at" json:"requested_at"`
	ApprovedAt    *time.Time          `db:"approved_at" json:"approved_at,omitempty"`
	PromotedAt    *time.Time          `db:"promoted_at" json:"promoted_at,omitempty"`
}

// RegressionCheck is one baseline-vs-candidate evaluation comparison.
type RegressionCheck struct {
	ID              int64    `db:"id" json:"id"`
	RequestID       int64    `db:"request_id" json:"request_id"`
	SuiteName       string   `db:"suite_name" json:"suite_name"`
	BaselineScore   *float64 `db:"baseline_score" json:"baseline_score,omitempty"`
	CandidateScore  *float64 `db:"candidate_score" json:"candidate_score,omitempty"`
	MinThreshold    float64  `db:"min_threshold" json:"min_threshold"`
	MaxDrop         float64  `db:"max_drop" json:"max_drop"`
	DropValue       *float64 `db:"drop_value" json:"drop_value,omitempty"`
	Passed          bool     `db:"passed" json:"passed"`
	Report          string   `db:"report" json:"report,omitempty"`
}

// RegressionThresholds are the per-component gating knobs update_thresholds
// mutates.
type RegressionThresholds struct {
	Component    RegressionComponent `db:"component" json:"component"`
	MinThreshold float64             `db:"min_threshold" json:"min_threshold"`
	MaxDrop      float64             `db:"max_drop" json:"max_drop"`
	Enabled      bool                `db:"enabled" json:"enabled"`
}

// CurrentComponentVersion is the active tag per component, atomically
// swapped on promotion.
type CurrentComponentVersion struct {
	Component  RegressionComponent `db:"component" json:"component"`
	CurrentTag string              `db:"current_tag" json:"current_tag"`
}
