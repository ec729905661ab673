// Package tracing wraps the three named spans the backplane emits
// around its longest-running operations: PDP.Evaluate,
// Hydration.HydrateWorkspace, and ULE.ProcessDocument. It is a thin
// convenience layer over the OpenTelemetry trace API so call sites
// don't repeat the tracer-lookup/attribute-set/status-on-error dance.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/govplane/backplane"

var tracer = otel.Tracer(instrumentationName)

// Start begins a span named name with the given attributes. It
// returns the derived context and an end func that records err (if
// non-nil) on the span before closing it — callers pass the
// operation's error, or nil, to end when the operation finishes, e.g.:
//
//	func (e *Engine) Evaluate(ctx context.Context, req models.EvaluateRequest) (decision models.EvaluateDecision) {
//	    ctx, end := tracing.Start(ctx, "PDP.Evaluate", attribute.Int("principal_id", req.Principal.ID))
//	    defer func() { end(nil) }()
//	    ...
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
