package pdp

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/rules"
)

type fakePrincipalResolver struct {
	principals map[int]*models.Principal
}

func (f *fakePrincipalResolver) Get(_ context.Context, id int) (*models.Principal, error) {
	return f.principals[id], nil
}

var _ = Describe("Middleware", func() {
	var (
		limiter    *fakeRateLimiter
		scanner    *fakeScanner
		acl        *fakeACL
		policies   *fakePolicyRepo
		audit      *fakeAudit
		engine     *Engine
		principals *fakePrincipalResolver
		mw         *Middleware
		handler    http.Handler
	)

	BeforeEach(func() {
		limiter = &fakeRateLimiter{allowed: true}
		scanner = &fakeScanner{result: rules.ContentScanResult{Safe: true}}
		acl = &fakeACL{perms: []models.Permission{models.PermissionRead}}
		policies = &fakePolicyRepo{}
		audit = &fakeAudit{}
		engine = New(limiter, scanner, acl, policies, audit, zap.NewNop())
		principals = &fakePrincipalResolver{principals: map[int]*models.Principal{
			1: {ID: 1, Role: models.RoleEngineer},
			7: {ID: 7, Role: models.RoleEngineer},
		}}
		mw = NewMiddleware(engine, limiter, principals, zap.NewNop())
		handler = mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	})

	It("passes through public paths without a principal header", func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("passes through OPTIONS requests", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("rejects a request with no principal header", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("returns 429 when the rate limiter denies", func() {
		limiter.allowed = false
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(PrincipalHeader, "1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
	})

	It("returns 401 for a principal id that does not resolve", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(PrincipalHeader, "999")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("returns 403 when the policy engine denies", func() {
		principals.principals[1] = &models.Principal{ID: 1, Role: models.RoleViewer}
		req := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
		req.Header.Set(PrincipalHeader, "1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("forwards the decision and principal id on the request context", func() {
		var gotPrincipal int
		var gotOK bool
		handler = mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPrincipal, gotOK = PrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(PrincipalHeader, "7")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(gotOK).To(BeTrue())
		Expect(gotPrincipal).To(Equal(7))
	})

	It("extracts client IP from X-Forwarded-For ahead of RemoteAddr", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(PrincipalHeader, "1")
		req.Header.Set(ForwardedForHeader, "203.0.113.5, 10.0.0.1")
		Expect(clientIP(req)).To(Equal("203.0.113.5"))
	})
})

var _ = Describe("resourceAndEndpointFromPath", func() {
	It("takes the second segment when the first is api", func() {
		rt, ep := resourceAndEndpointFromPath("/api/documents/123")
		Expect(rt).To(Equal("documents"))
		Expect(ep).To(Equal("documents"))
	})

	It("falls back to the first segment otherwise", func() {
		rt, ep := resourceAndEndpointFromPath("/health")
		Expect(rt).To(Equal("health"))
		Expect(ep).To(Equal("health"))
	})
})

var _ = Describe("context helpers", func() {
	It("reports false when no decision is present", func() {
		_, ok := DecisionFromContext(context.Background())
		Expect(ok).To(BeFalse())
	})
})
