package models

import "github.com/go-playground/validator/v10"

var requestValidate = validator.New()

// RequestContext carries the recognized PDP context keys (§9) plus an
// Extra map for forward compatibility with fields this struct doesn't
// name explicitly.
type RequestContext struct {
	ProjectID      *int           `json:"project_id,omitempty"`
	WorkspaceID    *string        `json:"workspace_id,omitempty"`
	Endpoint       string         `json:"endpoint,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Content        string         `json:"content,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Path           string         `json:"path,omitempty"`
	Method         string         `json:"method,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// EvaluateRequest is the PDP's sole public input shape.
type EvaluateRequest struct {
	Principal    Principal      `json:"principal" validate:"required"`
	Action       string         `json:"action" validate:"required"`
	ResourceType string         `json:"resource_type" validate:"required"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Context      RequestContext `json:"context"`
}

// Validate checks the required-field invariants every evaluate() call
// depends on before the pipeline runs.
func (r EvaluateRequest) Validate() error {
	return requestValidate.Struct(r)
}

// EvaluateDecision is the PDP's sole public output shape.
type EvaluateDecision struct {
	Allowed       bool     `json:"allowed"`
	Reason        string   `json:"reason"`
	Conditions    []string `json:"conditions,omitempty"`
	AuditRequired bool     `json:"audit_required"`
}
