package hydration

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
)

func TestNewScheduleRejectsInvalidHour(t *testing.T) {
	if _, err := NewSchedule(24, 0, nil); err == nil {
		t.Fatal("expected an error for an out-of-range hour")
	}
}

func TestNewScheduleDefaultsZoneToUTC(t *testing.T) {
	s, err := NewSchedule(3, 30, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Zone != time.UTC {
		t.Fatalf("expected UTC default zone, got %v", s.Zone)
	}
}

func TestScheduleNextRunAtIsStrictlyFuture(t *testing.T) {
	s, err := NewSchedule(3, 0, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	next, err := s.NextRunAt(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.After(now) {
		t.Fatalf("expected next run to be strictly after now, got %v vs %v", next, now)
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("expected next run at 03:00, got %v", next)
	}
}

type fakePolicyChecker struct {
	allow  bool
	reason string
}

func (f *fakePolicyChecker) Evaluate(context.Context, models.EvaluateRequest) models.EvaluateDecision {
	return models.EvaluateDecision{Allowed: f.allow, Reason: f.reason}
}

func TestWorkerRunDueSourceRaisesAlertOnDenial(t *testing.T) {
	ctx := context.Background()
	source := models.WorkspaceSource{ID: 1, WorkspaceID: "ws-1", SourceType: "fake", Enabled: true}
	sources := &fakeSourceRepo{sources: []models.WorkspaceSource{source}}
	states := newFakeStateRepo()
	states.states[1] = &models.HydrationState{SourceID: 1}
	alerts := &fakeAlertRepo{}

	pipeline := New(Config{
		Sources: sources, States: states, Documents: newFakeDocumentRepo(), Versions: newFakeVersionRepo(),
		Runs: newFakeRunRepo(), Alerts: alerts, Locker: &fakeLocker{}, Registry: nil, Log: zap.NewNop(),
	})

	schedule, err := NewSchedule(3, 0, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker := NewWorker(pipeline, states, sources, &fakePolicyChecker{allow: false, reason: "over quota"}, ServicePrincipal{ID: 1, Role: models.RoleAdmin}, schedule, time.Minute, zap.NewNop())

	worker.runDueSource(ctx, *states.states[1])

	if states.states[1].ConsecutiveFailures != 1 {
		t.Fatalf("expected consecutive_failures to increment on denial, got %d", states.states[1].ConsecutiveFailures)
	}
	if len(alerts.alerts) != 1 {
		t.Fatalf("expected a denial to raise exactly one alert, got %d", len(alerts.alerts))
	}
	if alerts.alerts[0].Category != models.AlertCategoryAuth {
		t.Fatalf("expected an auth-category alert, got %s", alerts.alerts[0].Category)
	}
}

func TestWorkerRunDueSourceAdvancesScheduleOnAllow(t *testing.T) {
	ctx := context.Background()
	source := models.WorkspaceSource{ID: 1, WorkspaceID: "ws-1", SourceType: "fake", Enabled: true}
	sources := &fakeSourceRepo{sources: []models.WorkspaceSource{source}}
	states := newFakeStateRepo()
	states.states[1] = &models.HydrationState{SourceID: 1}

	registry := newFakeRegistry(t)
	pipeline := New(Config{
		Sources: sources, States: states, Documents: newFakeDocumentRepo(), Versions: newFakeVersionRepo(),
		Runs: newFakeRunRepo(), Alerts: &fakeAlertRepo{}, Locker: &fakeLocker{}, Registry: registry,
		Indexing: &fakeIndexer{}, ULEHook: &fakeULEHook{}, Log: zap.NewNop(),
	})

	schedule, err := NewSchedule(3, 0, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker := NewWorker(pipeline, states, sources, &fakePolicyChecker{allow: true}, ServicePrincipal{ID: 1, Role: models.RoleAdmin}, schedule, time.Minute, zap.NewNop())

	worker.runDueSource(ctx, *states.states[1])

	if states.states[1].NextRunAt == nil {
		t.Fatal("expected next_run_at to be set after a successful scheduled run")
	}
}
