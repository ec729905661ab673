package rules

import (
	"context"

	"github.com/govplane/backplane/pkg/models"
)

// ContentScanResult is the minimal scanner.Result surface this rule
// consumes.
type ContentScanResult struct {
	Safe     bool
	Severity models.PatternSeverity
}

// ContentScanner is the minimal Content Scanner surface this rule
// needs — satisfied by *scanner.Scanner via an adapter in the PDP
// wiring layer.
type ContentScanner interface {
	Scan(ctx context.Context, text string) ContentScanResult
}

// ContentProhibitionRule wraps the Content Scanner: any non-safe
// verdict on context.content denies.
type ContentProhibitionRule struct {
	Scanner ContentScanner
}

func (r ContentProhibitionRule) Evaluate(ctx context.Context, req models.EvaluateRequest) (bool, string, error) {
	if req.Context.Content == "" {
		return true, "", nil
	}
	result := r.Scanner.Scan(ctx, req.Context.Content)
	if !result.Safe {
		return false, "content scan flagged severity " + string(result.Severity), nil
	}
	return true, "", nil
}
