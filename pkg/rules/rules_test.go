package rules

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/govplane/backplane/pkg/models"
)

func TestRules(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rules Suite")
}

var _ = Describe("RoleBasedRule", func() {
	rule := RoleBasedRule{}

	It("allows an action the role's permission set carries", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleEngineer}, Action: "write"}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies an action outside the role's permission set", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleViewer}, Action: "write"}
		allowed, reason, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
		Expect(reason).NotTo(BeEmpty())
	})

	It("allows everything for admin via the wildcard", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleAdmin}, Action: "export"}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

type fakeACLChecker struct {
	perms map[int][]models.Permission
}

func (f *fakeACLChecker) Permissions(_ context.Context, principalID, projectID int) ([]models.Permission, error) {
	return f.perms[principalID], nil
}

var _ = Describe("ProjectAccessRule", func() {
	It("allows when no project is in scope", func() {
		rule := ProjectAccessRule{ACL: &fakeACLChecker{}}
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleEngineer}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("allows implicit global admins regardless of ACL", func() {
		rule := ProjectAccessRule{ACL: &fakeACLChecker{}}
		projectID := 101
		req := models.EvaluateRequest{Principal: models.Principal{ID: 1, Role: models.RoleAdmin}, Context: models.RequestContext{ProjectID: &projectID}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies a non-admin engineer with no ACL entry", func() {
		rule := ProjectAccessRule{ACL: &fakeACLChecker{}}
		projectID := 101
		req := models.EvaluateRequest{Principal: models.Principal{ID: 1, Role: models.RoleEngineer}, Context: models.RequestContext{ProjectID: &projectID}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("allows an engineer with a non-expired ACL entry", func() {
		projectID := 101
		rule := ProjectAccessRule{ACL: &fakeACLChecker{perms: map[int][]models.Permission{1: {models.PermissionRead}}}}
		req := models.EvaluateRequest{Principal: models.Principal{ID: 1, Role: models.RoleEngineer}, Context: models.RequestContext{ProjectID: &projectID}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

var _ = Describe("DataClassificationRule", func() {
	rule := DataClassificationRule{}

	It("defaults the required classification to internal", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleViewer}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies viewer access to restricted content", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleViewer}, Context: models.RequestContext{Classification: "restricted"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("allows admin access to restricted content", func() {
		req := models.EvaluateRequest{Principal: models.Principal{Role: models.RoleAdmin}, Context: models.RequestContext{Classification: "restricted"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

var _ = Describe("TimeBasedRule", func() {
	It("denies outside allowed hours", func() {
		fixed := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
		rule := TimeBasedRule{
			Window: TimeWindow{AllowedHours: []int{9, 10, 11}},
			Now:    func() time.Time { return fixed },
		}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("allows within the configured window", func() {
		fixed := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		rule := TimeBasedRule{
			Window: TimeWindow{AllowedHours: []int{9, 10, 11}},
			Now:    func() time.Time { return fixed },
		}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("allows every hour when no window is configured", func() {
		rule := TimeBasedRule{}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

var _ = Describe("GeofenceRule", func() {
	It("allows when no IP is present", func() {
		rule, err := NewGeofenceRule(nil, nil)
		Expect(err).NotTo(HaveOccurred())
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies an IP on the block list", func() {
		rule, err := NewGeofenceRule(nil, []string{"10.0.*"})
		Expect(err).NotTo(HaveOccurred())
		req := models.EvaluateRequest{Context: models.RequestContext{IPAddress: "10.0.0.5"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("denies an IP not on a configured allow list", func() {
		rule, err := NewGeofenceRule([]string{"192.168.*"}, nil)
		Expect(err).NotTo(HaveOccurred())
		req := models.EvaluateRequest{Context: models.RequestContext{IPAddress: "10.0.0.5"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("allows an IP on the allow list", func() {
		rule, err := NewGeofenceRule([]string{"192.168.*"}, nil)
		Expect(err).NotTo(HaveOccurred())
		req := models.EvaluateRequest{Context: models.RequestContext{IPAddress: "192.168.1.1"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

type fakeRateLimitChecker struct {
	allowed bool
}

func (f *fakeRateLimitChecker) Check(context.Context, int, string) (bool, int, error) {
	return f.allowed, 0, nil
}

var _ = Describe("RateLimitRule", func() {
	It("denies when the limiter reports exceeded", func() {
		rule := RateLimitRule{Limiter: &fakeRateLimitChecker{allowed: false}}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("allows when under the limit", func() {
		rule := RateLimitRule{Limiter: &fakeRateLimitChecker{allowed: true}}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})

type fakeContentScanner struct {
	result ContentScanResult
}

func (f *fakeContentScanner) Scan(context.Context, string) ContentScanResult {
	return f.result
}

var _ = Describe("ContentProhibitionRule", func() {
	It("allows when there is no content to scan", func() {
		rule := ContentProhibitionRule{Scanner: &fakeContentScanner{}}
		allowed, _, err := rule.Evaluate(context.Background(), models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies when the scanner flags the content unsafe", func() {
		rule := ContentProhibitionRule{Scanner: &fakeContentScanner{result: ContentScanResult{Safe: false, Severity: models.SeverityHigh}}}
		req := models.EvaluateRequest{Context: models.RequestContext{Content: "bad stuff"}}
		allowed, _, err := rule.Evaluate(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})
})
