package hydration

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
)

// ServicePrincipal identifies the service account the scheduler
// evaluates hydrate_scheduled against (§4.7: "evaluates PDP for a
// service principal").
type ServicePrincipal struct {
	ID   int
	Role models.Role
}

// PolicyChecker is the subset of the PDP the scheduler needs: a single
// evaluate call gating each scheduled run.
type PolicyChecker interface {
	Evaluate(ctx context.Context, req models.EvaluateRequest) models.EvaluateDecision
}

// Schedule validates a configured HH:MM against cron syntax and
// computes the next strictly-future occurrence in zone, per the
// "Hydration scheduling" module concretization: robfig/cron/v3 is used
// only for parsing/validation and next-occurrence arithmetic, not as a
// triggering job runner.
type Schedule struct {
	parser cron.Parser
	Hour   int
	Minute int
	Zone   *time.Location
}

func NewSchedule(hour, minute int, zone *time.Location) (*Schedule, error) {
	if zone == nil {
		zone = time.UTC
	}
	s := &Schedule{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		Hour:   hour, Minute: minute, Zone: zone,
	}
	if _, err := s.parser.Parse(s.spec()); err != nil {
		return nil, fmt.Errorf("invalid hydration schedule %02d:%02d: %w", hour, minute, err)
	}
	return s, nil
}

func (s *Schedule) spec() string {
	return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
}

// NextRunAt returns the next occurrence of Hour:Minute in Zone,
// strictly after now.
func (s *Schedule) NextRunAt(now time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(s.spec())
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.In(s.Zone)), nil
}

// Worker polls HydrationState rows whose next_run_at has elapsed and
// invokes the pipeline with trigger=scheduled, per §4.7's scheduling
// model and §5's "next_run_at strictly increasing" ordering guarantee.
type Worker struct {
	pipeline  *Pipeline
	states    repository.HydrationStateRepository
	sources   repository.WorkspaceSourceRepository
	policy    PolicyChecker
	principal ServicePrincipal
	schedule  *Schedule
	poll      time.Duration
	log       *zap.Logger
}

func NewWorker(pipeline *Pipeline, states repository.HydrationStateRepository, sources repository.WorkspaceSourceRepository, policy PolicyChecker, principal ServicePrincipal, schedule *Schedule, poll time.Duration, log *zap.Logger) *Worker {
	if poll <= 0 {
		poll = time.Minute
	}
	return &Worker{pipeline: pipeline, states: states, sources: sources, policy: policy, principal: principal, schedule: schedule, poll: poll, log: log}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	due, err := w.states.DueForPoll(ctx, time.Now())
	if err != nil {
		w.log.Error("failed to poll due hydration states", zap.Error(err))
		return
	}
	for _, state := range due {
		w.runDueSource(ctx, state)
	}
}

func (w *Worker) runDueSource(ctx context.Context, state models.HydrationState) {
	source, err := w.sources.Get(ctx, state.SourceID)
	if err != nil || source == nil {
		w.log.Error("hydration source not found for due state", zap.Int64("source_id", state.SourceID), zap.Error(err))
		return
	}

	decision := w.policy.Evaluate(ctx, models.EvaluateRequest{
		Principal: models.Principal{ID: w.principal.ID, Role: w.principal.Role},
		Action:    "hydrate_scheduled", ResourceType: "workspace", ResourceID: source.WorkspaceID,
	})
	if !decision.Allowed {
		state.ConsecutiveFailures++
		_ = w.states.Upsert(ctx, &state)
		w.pipeline.RaiseAlert(ctx, source.WorkspaceID, models.AlertCategoryAuth, models.SeverityMedium, "scheduled hydration denied by policy: "+decision.Reason)
		w.log.Warn("scheduled hydration denied by policy", zap.String("workspace_id", source.WorkspaceID), zap.String("reason", decision.Reason))
		return
	}

	run, err := w.pipeline.HydrateWorkspace(ctx, source.WorkspaceID, Options{Trigger: models.TriggerScheduled, SourceIDs: []int64{source.ID}})
	if err != nil {
		w.log.Error("scheduled hydration failed", zap.String("workspace_id", source.WorkspaceID), zap.Error(err))
		return
	}

	next, err := w.schedule.NextRunAt(time.Now())
	if err != nil {
		w.log.Error("failed to compute next hydration schedule", zap.Error(err))
		return
	}
	state.NextRunAt = &next
	_ = w.states.Upsert(ctx, &state)
	w.log.Info("scheduled hydration completed", zap.String("workspace_id", source.WorkspaceID), zap.Int64("run_id", run.ID), zap.String("status", string(run.Status)))
}
