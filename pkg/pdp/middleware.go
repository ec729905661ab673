package pdp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
)

const (
	PrincipalHeader    = "X-Principal-ID"
	CorrelationHeader  = "X-Correlation-ID"
	ForwardedForHeader = "X-Forwarded-For"
	RealIPHeader       = "X-Real-IP"
)

type contextKey string

const (
	decisionContextKey  contextKey = "govplane.pdp.decision"
	principalContextKey contextKey = "govplane.pdp.principal"
)

// DecisionFromContext returns the decision the middleware stored for
// the current request, if any.
func DecisionFromContext(ctx context.Context) (models.EvaluateDecision, bool) {
	d, ok := ctx.Value(decisionContextKey).(models.EvaluateDecision)
	return d, ok
}

// PrincipalFromContext returns the principal id the middleware
// extracted for the current request, if any.
func PrincipalFromContext(ctx context.Context) (int, bool) {
	p, ok := ctx.Value(principalContextKey).(int)
	return p, ok
}

var publicPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/metrics": true,
	"/docs":    true,
}

// MiddlewareRateLimiter is the subset of the rate limiter the middleware needs
// for the standalone 429 pre-check described in §4.6.
type MiddlewareRateLimiter interface {
	Check(ctx context.Context, principalID int, endpoint string) (allowed bool, remaining int, err error)
}

// PrincipalResolver resolves the full principal (including role) from
// the id carried on the principal identifier header — satisfied by
// *repository.PostgresPrincipalRepository.
type PrincipalResolver interface {
	Get(ctx context.Context, id int) (*models.Principal, error)
}

// Middleware enforces the PDP contract at the HTTP boundary: public
// paths and OPTIONS pass through, the principal id and resource are
// extracted, the rate limiter is pre-checked, then policy_engine.evaluate
// gates the request.
type Middleware struct {
	engine      *Engine
	rateLimiter MiddlewareRateLimiter
	principals  PrincipalResolver
	log         *zap.Logger

	warnOnce sync.Once
}

func NewMiddleware(engine *Engine, rateLimiter MiddlewareRateLimiter, principals PrincipalResolver, log *zap.Logger) *Middleware {
	return &Middleware{engine: engine, rateLimiter: rateLimiter, principals: principals, log: log}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		principalID, ok := principalFromHeader(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid principal identifier header")
			return
		}

		principal, err := m.principals.Get(r.Context(), principalID)
		if err != nil || principal == nil {
			writeJSONError(w, http.StatusUnauthorized, "unknown principal")
			return
		}

		resourceType, endpoint := resourceAndEndpointFromPath(r.URL.Path)
		ip := clientIP(r)

		if m.rateLimiter != nil {
			allowed, remaining, err := m.rateLimiter.Check(r.Context(), principalID, endpoint)
			if err == nil && !allowed {
				m.log.Info("pdp middleware denied request", zap.String("decision", "rate_limit_exceeded"), zap.Int("principal_id", principalID), zap.String("endpoint", endpoint))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"reason": "rate limit exceeded", "remaining": remaining, "endpoint": endpoint,
				})
				return
			}
		}

		req := models.EvaluateRequest{
			Principal:    *principal,
			Action:       actionFromMethod(r.Method),
			ResourceType: resourceType,
			Context: models.RequestContext{
				Endpoint:  endpoint,
				IPAddress: ip,
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
				Method:    r.Method,
			},
		}

		decision := m.engine.Evaluate(r.Context(), req)
		if !decision.Allowed {
			m.log.Info("pdp middleware denied request", zap.String("reason", decision.Reason), zap.Int("principal_id", principalID))
			writeJSON(w, http.StatusForbidden, map[string]any{"reason": decision.Reason})
			return
		}

		ctx := context.WithValue(r.Context(), decisionContextKey, decision)
		ctx = context.WithValue(ctx, principalContextKey, principalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromHeader(r *http.Request) (int, bool) {
	raw := r.Header.Get(PrincipalHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// resourceAndEndpointFromPath extracts the resource type from the
// second path segment when the first is "api" (§4.6).
func resourceAndEndpointFromPath(path string) (resourceType, endpoint string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "api" {
		return segments[1], segments[1]
	}
	if len(segments) >= 1 && segments[0] != "" {
		return segments[0], segments[0]
	}
	return "default", "default"
}

func actionFromMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "write"
	case http.MethodDelete:
		return "write"
	default:
		return "read"
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get(ForwardedForHeader); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get(RealIPHeader); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"reason": reason})
}

// Mount wires the middleware onto a chi router's /api subtree.
func Mount(r chi.Router, m *Middleware) {
	r.Route("/api", func(api chi.Router) {
		api.Use(m.Handler)
	})
}
