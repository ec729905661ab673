package pdp

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/govplane/backplane/pkg/models"
)

var _ = Describe("ABACEvaluator", func() {
	var (
		ctx context.Context
		ev  *ABACEvaluator
	)

	BeforeEach(func() {
		ctx = context.Background()
		ev = NewABACEvaluator()
	})

	It("denies when no rego module is configured", func() {
		policy := models.Policy{ID: 1, Type: models.PolicyTypeABAC, Rules: map[string]any{}}
		allowed, reason, err := ev.Evaluate(ctx, policy, models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
		Expect(reason).To(ContainSubstring("no rego module"))
	})

	It("allows when the module's data.govplane.allow evaluates true", func() {
		policy := models.Policy{ID: 2, Type: models.PolicyTypeABAC, Rules: map[string]any{
			"rego": `package govplane

allow { input.action == "read" }`,
		}}
		req := models.EvaluateRequest{Action: "read"}
		allowed, _, err := ev.Evaluate(ctx, policy, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})

	It("denies when the module's rule does not match", func() {
		policy := models.Policy{ID: 3, Type: models.PolicyTypeABAC, Rules: map[string]any{
			"rego": `package govplane

allow { input.action == "write" }`,
		}}
		req := models.EvaluateRequest{Action: "read"}
		allowed, _, err := ev.Evaluate(ctx, policy, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("denies with a compile-error reason for invalid rego", func() {
		policy := models.Policy{ID: 4, Type: models.PolicyTypeABAC, Rules: map[string]any{
			"rego": `not valid rego at all {{{`,
		}}
		allowed, reason, err := ev.Evaluate(ctx, policy, models.EvaluateRequest{})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeFalse())
		Expect(reason).To(ContainSubstring("compile error"))
	})

	It("reuses the cached query when the policy is unchanged", func() {
		policy := models.Policy{ID: 5, Type: models.PolicyTypeABAC, Rules: map[string]any{
			"rego": `package govplane

allow { input.action == "read" }`,
		}}
		_, _, err := ev.Evaluate(ctx, policy, models.EvaluateRequest{Action: "read"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.cache).To(HaveKey(int64(5)))

		allowed, _, err := ev.Evaluate(ctx, policy, models.EvaluateRequest{Action: "read"})
		Expect(err).NotTo(HaveOccurred())
		Expect(allowed).To(BeTrue())
	})
})
