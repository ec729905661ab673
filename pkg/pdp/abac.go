package pdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"

	"github.com/govplane/backplane/pkg/models"
)

// compiledRego caches one policy's prepared evaluation query, keyed by
// policy id + UpdatedAt so an edited policy is recompiled lazily
// rather than on every evaluate() call.
type compiledRego struct {
	updatedAt any
	query     rego.PreparedEvalQuery
}

// ABACEvaluator compiles and caches Rego modules stored on
// type="abac" policies (§ module concretizations) and evaluates them
// against the PDP request document.
type ABACEvaluator struct {
	mu    sync.Mutex
	cache map[int64]compiledRego
}

func NewABACEvaluator() *ABACEvaluator {
	return &ABACEvaluator{cache: map[int64]compiledRego{}}
}

// Evaluate runs policy's Rego module (expected under rules.rego) with
// req as input, expecting a boolean at data.govplane.allow. A compile
// error or non-boolean result denies with the error as the reason; it
// never panics.
func (a *ABACEvaluator) Evaluate(ctx context.Context, policy models.Policy, req models.EvaluateRequest) (allowed bool, reason string, err error) {
	source, _ := policy.Rules["rego"].(string)
	if source == "" {
		return false, "abac policy has no rego module configured", nil
	}

	query, err := a.prepared(ctx, policy, source)
	if err != nil {
		return false, fmt.Sprintf("abac policy compile error: %v", err), nil
	}

	input := map[string]any{
		"principal":     req.Principal,
		"action":        req.Action,
		"resource_type": req.ResourceType,
		"resource_id":   req.ResourceID,
		"context":       req.Context,
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("abac policy evaluation error: %v", err), nil
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "abac policy produced no result", nil
	}
	decision, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, "abac policy did not return a boolean", nil
	}
	return decision, "", nil
}

func (a *ABACEvaluator) prepared(ctx context.Context, policy models.Policy, source string) (rego.PreparedEvalQuery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.cache[policy.ID]; ok && cached.updatedAt == policy.UpdatedAt {
		return cached.query, nil
	}

	query, err := rego.New(
		rego.Query("data.govplane.allow"),
		rego.Module(fmt.Sprintf("policy_%d.rego", policy.ID), source),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}
	a.cache[policy.ID] = compiledRego{updatedAt: policy.UpdatedAt, query: query}
	return query, nil
}
