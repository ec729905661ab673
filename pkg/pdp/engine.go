// Package pdp implements the Policy Engine (§4.6): the fail-fast
// rate→content→access→policy-chain evaluation pipeline, the ABAC Rego
// bridge, and the HTTP middleware contract.
package pdp

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/rules"
	"github.com/govplane/backplane/pkg/tracing"
)

// RateLimiter is the minimal surface the engine needs from the Rate
// Limiter — satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, principalID int, endpoint string) (allowed bool, remaining int, err error)
	Increment(ctx context.Context, principalID int, endpoint string) (newCount int, err error)
}

// ContentScanner is the minimal surface the engine needs from the
// Content Scanner — satisfied by scanner.PDPAdapter wrapping
// *scanner.Scanner.
type ContentScanner interface {
	Scan(ctx context.Context, text string) rules.ContentScanResult
}

// ACLChecker is the minimal surface the engine needs from the ACL
// Manager — satisfied by *acl.Manager.
type ACLChecker = rules.ACLChecker

// AuditSink records one decision per evaluate() call.
type AuditSink interface {
	Log(ctx context.Context, principalID *int, action string, resourceType, resourceID *string, decision models.Decision, metadata map[string]any, ip *string) error
}

// Engine orchestrates the fixed evaluation order of §4.6.
type Engine struct {
	rateLimiter RateLimiter
	scanner     ContentScanner
	acl         ACLChecker
	policies    repository.PolicyRepository
	audit       AuditSink
	abac        *ABACEvaluator
	log         *zap.Logger

	chain           []rules.Rule
	policiesWarnOnce sync.Once
}

// New constructs an Engine with the default policy chain
// (DataClassificationRule → TimeBasedRule → GeofenceRule). WithChain
// replaces that default chain as a whole.
func New(rateLimiter RateLimiter, scanner ContentScanner, acl ACLChecker, policies repository.PolicyRepository, audit AuditSink, log *zap.Logger) *Engine {
	geofence, _ := rules.NewGeofenceRule(nil, nil)
	return &Engine{
		rateLimiter: rateLimiter,
		scanner:     scanner,
		acl:         acl,
		policies:    policies,
		audit:       audit,
		abac:        NewABACEvaluator(),
		log:         log,
		chain:       []rules.Rule{rules.DataClassificationRule{}, rules.TimeBasedRule{}, geofence},
	}
}

// WithChain overrides the default policy chain (e.g. to load
// GeofenceRule/TimeBasedRule from configured policy rows).
func (e *Engine) WithChain(chain []rules.Rule) {
	e.chain = chain
}

// Evaluate runs the fixed fail-fast pipeline and always produces
// exactly one audit record.
func (e *Engine) Evaluate(ctx context.Context, req models.EvaluateRequest) (decision models.EvaluateDecision) {
	ctx, end := tracing.Start(ctx, "PDP.Evaluate",
		attribute.Int("principal_id", req.Principal.ID),
		attribute.String("action", req.Action),
		attribute.String("resource_type", req.ResourceType),
	)
	var outcome models.Decision
	decision, outcome = e.evaluateSafely(ctx, req)
	e.auditDecision(ctx, req, decision, outcome)
	if !decision.Allowed {
		end(fmt.Errorf("denied: %s", decision.Reason))
	} else {
		end(nil)
	}
	return decision
}

func (e *Engine) evaluateSafely(ctx context.Context, req models.EvaluateRequest) (decision models.EvaluateDecision, outcome models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("policy evaluation panicked", zap.Any("recover", r))
			decision = models.EvaluateDecision{Allowed: false, Reason: fmt.Sprintf("Policy evaluation error: %v", r), AuditRequired: true}
			outcome = models.DecisionDeny
		}
	}()
	return e.evaluate(ctx, req)
}

func (e *Engine) evaluate(ctx context.Context, req models.EvaluateRequest) (models.EvaluateDecision, models.Decision) {
	if err := req.Validate(); err != nil {
		return models.EvaluateDecision{Allowed: false, Reason: "invalid evaluate request: " + err.Error(), AuditRequired: true}, models.DecisionDeny
	}

	endpoint := req.Context.Endpoint
	if endpoint == "" {
		endpoint = req.ResourceType
	}

	// 1. Rate limit.
	allowed, remaining, err := e.rateLimiter.Check(ctx, req.Principal.ID, endpoint)
	if err != nil {
		return errorDecision(err), models.DecisionDeny
	}
	if !allowed {
		return models.EvaluateDecision{Allowed: false, Reason: "rate limit exceeded", AuditRequired: true}, models.DecisionRateLimitExceeded
	}
	if _, err := e.rateLimiter.Increment(ctx, req.Principal.ID, endpoint); err != nil {
		return errorDecision(err), models.DecisionDeny
	}
	_ = remaining

	// 2. Content scan.
	if req.Context.Content != "" {
		result := e.scanner.Scan(ctx, req.Context.Content)
		if !result.Safe && (result.Severity == models.SeverityHigh || result.Severity == models.SeverityCritical) {
			return models.EvaluateDecision{
				Allowed:       false,
				Reason:        "content scan flagged prohibited content",
				Conditions:    []string{"severity=" + string(result.Severity)},
				AuditRequired: true,
			}, models.DecisionDeny
		}
	}

	// 3. Access control.
	roleAllowed, roleReason, err := rules.RoleBasedRule{}.Evaluate(ctx, req)
	if err != nil {
		return errorDecision(err), models.DecisionDeny
	}
	if !roleAllowed {
		return models.EvaluateDecision{Allowed: false, Reason: roleReason, AuditRequired: true}, models.DecisionDeny
	}

	if req.Context.ProjectID != nil {
		projectAllowed, projectReason, err := (rules.ProjectAccessRule{ACL: e.acl}).Evaluate(ctx, req)
		if err != nil {
			return errorDecision(err), models.DecisionDeny
		}
		if !projectAllowed {
			return models.EvaluateDecision{Allowed: false, Reason: projectReason, AuditRequired: true}, models.DecisionDeny
		}
	}

	// 4. Policy chain — all must pass, reasons accumulate as conditions.
	var conditions []string
	for _, rule := range e.chain {
		chainAllowed, reason, err := rule.Evaluate(ctx, req)
		if err != nil {
			return errorDecision(err), models.DecisionDeny
		}
		if !chainAllowed {
			return models.EvaluateDecision{Allowed: false, Reason: reason, AuditRequired: true}, models.DecisionDeny
		}
		if reason != "" {
			conditions = append(conditions, reason)
		}
	}

	// ABAC policies, evaluated after the fixed chain.
	if e.policies != nil {
		abacAllowed, abacReason, err := e.evaluateABAC(ctx, req)
		if err != nil {
			return errorDecision(err), models.DecisionDeny
		}
		if !abacAllowed {
			return models.EvaluateDecision{Allowed: false, Reason: abacReason, AuditRequired: true}, models.DecisionDeny
		}
	}

	return models.EvaluateDecision{Allowed: true, Conditions: conditions, AuditRequired: true}, models.DecisionAllow
}

func (e *Engine) evaluateABAC(ctx context.Context, req models.EvaluateRequest) (bool, string, error) {
	policies, err := e.policies.ListEnabled(ctx)
	if err != nil {
		e.policiesWarnOnce.Do(func() {
			e.log.Warn("policies table unavailable, degrading to passthrough", zap.Error(err))
		})
		return true, "", nil
	}
	for _, p := range policies {
		if p.Type != models.PolicyTypeABAC {
			continue
		}
		allowed, reason, err := e.abac.Evaluate(ctx, p, req)
		if err != nil {
			return false, "", err
		}
		if !allowed {
			return false, reason, nil
		}
	}
	return true, "", nil
}

func errorDecision(err error) models.EvaluateDecision {
	return models.EvaluateDecision{Allowed: false, Reason: fmt.Sprintf("Policy evaluation error: %v", err), AuditRequired: true}
}

func (e *Engine) auditDecision(ctx context.Context, req models.EvaluateRequest, decision models.EvaluateDecision, outcome models.Decision) {
	if e.audit == nil || !decision.AuditRequired {
		return
	}
	principalID := req.Principal.ID
	resourceType := req.ResourceType
	var resourceID *string
	if req.ResourceID != "" {
		resourceID = &req.ResourceID
	}
	var ip *string
	if req.Context.IPAddress != "" {
		ip = &req.Context.IPAddress
	}
	metadata := map[string]any{"reason": decision.Reason}
	if len(decision.Conditions) > 0 {
		metadata["conditions"] = decision.Conditions
	}
	if err := e.audit.Log(ctx, &principalID, req.Action, &resourceType, resourceID, outcome, metadata, ip); err != nil {
		e.log.Error("failed to write audit record", zap.Error(err))
	}
}
