package rules

import (
	"context"

	"github.com/govplane/backplane/pkg/models"
)

// RateLimitChecker is the minimal Rate Limiter surface this rule
// needs — satisfied by *ratelimit.Limiter.
type RateLimitChecker interface {
	Check(ctx context.Context, principalID int, endpoint string) (allowed bool, remaining int, err error)
}

// RateLimitRule wraps the Rate Limiter's check semantics as a policy
// predicate.
type RateLimitRule struct {
	Limiter RateLimitChecker
}

func (r RateLimitRule) Evaluate(ctx context.Context, req models.EvaluateRequest) (bool, string, error) {
	endpoint := req.Context.Endpoint
	if endpoint == "" {
		endpoint = "default"
	}
	allowed, _, err := r.Limiter.Check(ctx, req.Principal.ID, endpoint)
	if err != nil {
		return false, "", err
	}
	if !allowed {
		return false, "rate limit exceeded for " + endpoint, nil
	}
	return true, "", nil
}
