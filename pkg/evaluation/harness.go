// Package evaluation implements the Evaluation Harness: a named-suite
// registry, a synchronous run lifecycle that scores a tag against each
// case in a suite, and threshold alerting when the aggregate score
// drops below a configured floor. The Regression Guard runs each suite
// twice (baseline, candidate tags) through this harness to compute the
// comparison run_check needs.
package evaluation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	statsmath "github.com/govplane/backplane/pkg/shared/statistics"
)

// Case is one scored check within a Suite. Run scores a specific
// component version (tag) — e.g. "baseline:v1" or a candidate git sha.
type Case struct {
	Name string
	Run  func(ctx context.Context, tag string) (score float64, err error)
}

// Suite is a named, ordered set of Cases.
type Suite struct {
	Name  string
	Cases []Case
}

// Registry resolves a suite name to its Suite definition.
type Registry struct {
	mu     sync.RWMutex
	suites map[string]Suite
}

func NewRegistry() *Registry {
	return &Registry{suites: make(map[string]Suite)}
}

// Register adds (or replaces) a suite by name.
func (r *Registry) Register(suite Suite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suites[suite.Name] = suite
}

// Get looks up a suite by name.
func (r *Registry) Get(name string) (Suite, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	suite, ok := r.suites[name]
	return suite, ok
}

// List returns the registered suite names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.suites))
	for name := range r.suites {
		names = append(names, name)
	}
	return names
}

// UnknownSuiteError reports a suite name absent from the registry.
type UnknownSuiteError struct{ SuiteName string }

func (e *UnknownSuiteError) Error() string { return "unknown evaluation suite: " + e.SuiteName }

// Result is one suite run's outcome.
type Result struct {
	SuiteName  string
	Tag        string
	Score      float64
	CaseScores map[string]float64
	Duration   time.Duration
}

// ThresholdAlerter is notified when a suite run's aggregate score
// falls below the harness' configured alert floor.
type ThresholdAlerter interface {
	Alert(ctx context.Context, suiteName, tag string, score, floor float64)
}

// NoopAlerter is the default when no alerting channel is configured.
type NoopAlerter struct{}

func (NoopAlerter) Alert(context.Context, string, string, float64, float64) {}

// Harness runs suites against a tag and aggregates per-case scores
// into one suite-level score (the mean of case scores, per §4.9's
// "runs the tagged evaluation suite ... computes ... score").
type Harness struct {
	registry   *Registry
	alerter    ThresholdAlerter
	alertFloor float64
	log        *zap.Logger
}

func New(registry *Registry, alerter ThresholdAlerter, alertFloor float64, log *zap.Logger) *Harness {
	if alerter == nil {
		alerter = NoopAlerter{}
	}
	return &Harness{registry: registry, alerter: alerter, alertFloor: alertFloor, log: log}
}

// RunSuite runs every case in suiteName against tag and returns the
// aggregate result. A case error is recorded as a zero score for that
// case rather than aborting the run — one failing case shouldn't mask
// the rest of the suite's signal.
func (h *Harness) RunSuite(ctx context.Context, suiteName, tag string) (*Result, error) {
	suite, ok := h.registry.Get(suiteName)
	if !ok {
		return nil, &UnknownSuiteError{SuiteName: suiteName}
	}

	start := time.Now()
	caseScores := make(map[string]float64, len(suite.Cases))
	scores := make([]float64, 0, len(suite.Cases))
	for _, c := range suite.Cases {
		score, err := c.Run(ctx, tag)
		if err != nil {
			h.log.Warn("evaluation case failed", zap.String("suite", suiteName), zap.String("case", c.Name), zap.String("tag", tag), zap.Error(err))
			score = 0
		}
		caseScores[c.Name] = score
		scores = append(scores, score)
	}

	aggregate := statsmath.Mean(scores)
	result := &Result{SuiteName: suiteName, Tag: tag, Score: aggregate, CaseScores: caseScores, Duration: time.Since(start)}

	if h.alertFloor > 0 && aggregate < h.alertFloor {
		h.alerter.Alert(ctx, suiteName, tag, aggregate, h.alertFloor)
	}
	return result, nil
}
