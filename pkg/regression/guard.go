// Package regression implements the Regression Guard's promotion
// lifecycle (§4.9): create_request -> run_check -> approve -> promote,
// plus update_thresholds. Every component gate runs a candidate tag's
// evaluation suite against its baseline through the Evaluation Harness
// and only promotes when the candidate clears both a minimum score and
// a maximum allowed drop from baseline.
package regression

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/evaluation"
	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
)

const defaultBaselineTag = "baseline:v1"

var defaultThresholds = models.RegressionThresholds{MinThreshold: 0, MaxDrop: 0.02, Enabled: true}

// PolicyChecker is the subset of the PDP the guard needs to gate
// approve and promote behind an admin-scoped evaluate call.
type PolicyChecker interface {
	Evaluate(ctx context.Context, req models.EvaluateRequest) models.EvaluateDecision
}

// AuditLogger is the subset of the audit repository the guard needs to
// record approve/promote decisions.
type AuditLogger interface {
	Log(ctx context.Context, r *models.AuditRecord) error
}

// NotApprovedError reports an approve/promote called out of sequence.
type NotApprovedError struct{ Status models.PromotionStatus }

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("promotion request is %s, not eligible for this transition", e.Status)
}

// DeniedError reports a PDP denial gating approve/promote.
type DeniedError struct{ Reason string }

func (e *DeniedError) Error() string { return "denied by policy: " + e.Reason }

// Guard drives the promotion lifecycle for regression-gated components.
type Guard struct {
	promotions repository.PromotionRepository
	harness    *evaluation.Harness
	policy     PolicyChecker
	audit      AuditLogger
	log        *zap.Logger
}

func New(promotions repository.PromotionRepository, harness *evaluation.Harness, policy PolicyChecker, audit AuditLogger, log *zap.Logger) *Guard {
	return &Guard{promotions: promotions, harness: harness, policy: policy, audit: audit, log: log}
}

// CreateRequest opens a new promotion attempt for component, comparing
// candidateTag against baselineTag (defaults to "baseline:v1" when
// empty, per §4.9's baseline tag default).
func (g *Guard) CreateRequest(ctx context.Context, component models.RegressionComponent, baselineTag, candidateTag string, workspaceID *string, requestedBy *int) (*models.PromotionRequest, error) {
	if !models.ValidRegressionComponents[component] {
		return nil, fmt.Errorf("unknown regression component: %s", component)
	}
	if baselineTag == "" {
		baselineTag = defaultBaselineTag
	}
	req := models.PromotionRequest{
		Component: component, BaselineTag: baselineTag, CandidateTag: candidateTag,
		Status: models.PromotionRequested, WorkspaceID: workspaceID, RequestedBy: requestedBy,
	}
	return g.promotions.Create(ctx, &req)
}

// RunCheck runs the component's evaluation suite once per tag (baseline,
// candidate), computes the drop, and records a RegressionCheck. It
// updates the request's status to pass or fail per §4.9's formula:
// passed = candidate_score >= min_threshold AND drop <= max_drop.
func (g *Guard) RunCheck(ctx context.Context, requestID int64) (*models.RegressionCheck, error) {
	req, err := g.promotions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("promotion request %d not found", requestID)
	}

	thresholds, err := g.promotions.GetThresholds(ctx, req.Component)
	if err != nil {
		return nil, err
	}
	if thresholds == nil {
		t := defaultThresholds
		t.Component = req.Component
		thresholds = &t
	}

	suiteName := models.ComponentSuite[req.Component]
	baseline, err := g.harness.RunSuite(ctx, suiteName, req.BaselineTag)
	if err != nil {
		return nil, fmt.Errorf("baseline suite run: %w", err)
	}
	candidate, err := g.harness.RunSuite(ctx, suiteName, req.CandidateTag)
	if err != nil {
		return nil, fmt.Errorf("candidate suite run: %w", err)
	}

	baselineScore := decimal.NewFromFloat(baseline.Score)
	candidateScore := decimal.NewFromFloat(candidate.Score)
	drop := baselineScore.Sub(candidateScore)
	minThreshold := decimal.NewFromFloat(thresholds.MinThreshold)
	maxDrop := decimal.NewFromFloat(thresholds.MaxDrop)

	passed := candidateScore.GreaterThanOrEqual(minThreshold) && drop.LessThanOrEqual(maxDrop)

	baselineF, _ := baselineScore.Float64()
	candidateF, _ := candidateScore.Float64()
	dropF, _ := drop.Float64()

	check := models.RegressionCheck{
		RequestID: req.ID, SuiteName: suiteName,
		BaselineScore: &baselineF, CandidateScore: &candidateF,
		MinThreshold: thresholds.MinThreshold, MaxDrop: thresholds.MaxDrop,
		DropValue: &dropF, Passed: passed,
		Report: fmt.Sprintf("baseline=%s candidate=%s drop=%s min_threshold=%s max_drop=%s",
			baselineScore.StringFixed(4), candidateScore.StringFixed(4), drop.StringFixed(4),
			minThreshold.StringFixed(4), maxDrop.StringFixed(4)),
	}
	if err := g.promotions.AddCheck(ctx, &check); err != nil {
		return nil, err
	}

	status := models.PromotionFail
	if passed {
		status = models.PromotionPass
	}
	if err := g.promotions.UpdateStatus(ctx, req.ID, status, nil); err != nil {
		return nil, err
	}
	g.log.Info("regression check complete",
		zap.Int64("request_id", req.ID), zap.String("component", string(req.Component)),
		zap.Bool("passed", passed), zap.String("drop", drop.StringFixed(4)))
	return &check, nil
}

// Approve marks a passed request approved, gated by a PDP evaluate call
// for action "regression.approve" and an audit record on every attempt.
func (g *Guard) Approve(ctx context.Context, requestID int64, approver models.Principal) (*models.PromotionRequest, error) {
	req, err := g.promotions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("promotion request %d not found", requestID)
	}
	if req.Status != models.PromotionPass {
		return nil, &NotApprovedError{Status: req.Status}
	}

	decision := g.policy.Evaluate(ctx, models.EvaluateRequest{
		Principal: approver, Action: "regression.approve",
		ResourceType: "promotion_request", ResourceID: fmt.Sprintf("%d", requestID),
	})
	g.recordAudit(ctx, approver, "regression.approve", requestID, decision)
	if !decision.Allowed {
		return nil, &DeniedError{Reason: decision.Reason}
	}

	approvedBy := approver.ID
	if err := g.promotions.UpdateStatus(ctx, req.ID, models.PromotionApproved, &approvedBy); err != nil {
		return nil, err
	}
	req.Status = models.PromotionApproved
	req.ApprovedBy = &approvedBy
	return req, nil
}

// Promote atomically swaps the component's active tag to the candidate,
// requiring the request be approved and its latest check still passed,
// gated by a PDP evaluate call for action "regression.promote".
func (g *Guard) Promote(ctx context.Context, requestID int64, actor models.Principal) (*models.PromotionRequest, error) {
	req, err := g.promotions.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("promotion request %d not found", requestID)
	}
	if req.Status != models.PromotionApproved {
		return nil, &NotApprovedError{Status: req.Status}
	}

	latest, err := g.promotions.LatestCheck(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil || !latest.Passed {
		return nil, fmt.Errorf("promotion request %d has no passing regression check", req.ID)
	}

	decision := g.policy.Evaluate(ctx, models.EvaluateRequest{
		Principal: actor, Action: "regression.promote",
		ResourceType: "promotion_request", ResourceID: fmt.Sprintf("%d", requestID),
	})
	g.recordAudit(ctx, actor, "regression.promote", requestID, decision)
	if !decision.Allowed {
		return nil, &DeniedError{Reason: decision.Reason}
	}

	if err := g.promotions.SwapCurrentVersion(ctx, req.Component, req.CandidateTag); err != nil {
		return nil, err
	}
	if err := g.promotions.UpdateStatus(ctx, req.ID, models.PromotionPromoted, nil); err != nil {
		return nil, err
	}
	req.Status = models.PromotionPromoted
	g.log.Info("component promoted", zap.String("component", string(req.Component)), zap.String("tag", req.CandidateTag))
	return req, nil
}

// UpdateThresholds upserts the min_threshold/max_drop/enabled gate for
// a component.
func (g *Guard) UpdateThresholds(ctx context.Context, thresholds models.RegressionThresholds) error {
	if !models.ValidRegressionComponents[thresholds.Component] {
		return fmt.Errorf("unknown regression component: %s", thresholds.Component)
	}
	return g.promotions.UpsertThresholds(ctx, &thresholds)
}

func (g *Guard) recordAudit(ctx context.Context, principal models.Principal, action string, requestID int64, decision models.EvaluateDecision) {
	if g.audit == nil || !decision.AuditRequired {
		return
	}
	resourceType := "promotion_request"
	resourceID := fmt.Sprintf("%d", requestID)
	outcome := models.DecisionDeny
	if decision.Allowed {
		outcome = models.DecisionAllow
	}
	if err := g.audit.Log(ctx, &models.AuditRecord{
		PrincipalID: &principal.ID, Action: action,
		ResourceType: &resourceType, ResourceID: &resourceID,
		Decision: outcome, Metadata: map[string]any{"reason": decision.Reason},
	}); err != nil {
		g.log.Warn("failed to record regression audit entry", zap.Error(err))
	}
}
