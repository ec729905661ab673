package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/govplane/backplane/internal/config"
	"github.com/govplane/backplane/pkg/models"
)

func TestRatelimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ratelimit Suite")
}

type fakeCounterRepo struct {
	rows map[string]*models.RateCounter
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{rows: map[string]*models.RateCounter{}}
}

func key(principalID int, endpoint string) string {
	return strconv.Itoa(principalID) + ":" + endpoint
}

func (f *fakeCounterRepo) Get(_ context.Context, principalID int, endpoint string) (*models.RateCounter, error) {
	c, ok := f.rows[key(principalID, endpoint)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCounterRepo) Upsert(_ context.Context, c *models.RateCounter) error {
	cp := *c
	f.rows[key(c.PrincipalID, c.Endpoint)] = &cp
	return nil
}

func (f *fakeCounterRepo) Reset(_ context.Context, principalID int, endpoint string) error {
	if c, ok := f.rows[key(principalID, endpoint)]; ok {
		c.CurrentCount = 0
		c.WindowStart = time.Now()
	}
	return nil
}

func (f *fakeCounterRepo) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for k, c := range f.rows {
		if c.WindowStart.Before(olderThan) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

var _ = Describe("Limiter", func() {
	var (
		ctx   context.Context
		repo  *fakeCounterRepo
		limit *Limiter
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newFakeCounterRepo()
		limit = New(repo, config.RateLimiterConfig{
			Default: config.EndpointLimit{Limit: 3, WindowSeconds: 60},
			Endpoints: map[string]config.EndpointLimit{
				"search": {Limit: 2, WindowSeconds: 60},
			},
		}, zap.NewNop())
	})

	Describe("Check", func() {
		It("allows requests when no counter exists yet", func() {
			allowed, remaining, err := limit.Check(ctx, 1, "default")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeTrue())
			Expect(remaining).To(Equal(3))
		})

		It("does not mutate the stored counter", func() {
			limit.Increment(ctx, 1, "default")
			_, _, err := limit.Check(ctx, 1, "default")
			Expect(err).NotTo(HaveOccurred())
			c, _ := repo.Get(ctx, 1, "default")
			Expect(c.CurrentCount).To(Equal(1))
		})

		It("uses the endpoint-specific limit when one is configured", func() {
			_, remaining, err := limit.Check(ctx, 1, "search")
			Expect(err).NotTo(HaveOccurred())
			Expect(remaining).To(Equal(2))
		})
	})

	Describe("Increment", func() {
		It("creates a counter on first use and increments it", func() {
			n, err := limit.Increment(ctx, 1, "search")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("denies once the limit is reached", func() {
			limit.Increment(ctx, 1, "search")
			limit.Increment(ctx, 1, "search")
			allowed, remaining, err := limit.Check(ctx, 1, "search")
			Expect(err).NotTo(HaveOccurred())
			Expect(allowed).To(BeFalse())
			Expect(remaining).To(Equal(0))
		})

		It("rolls over to a fresh window once window_seconds has elapsed", func() {
			repo.Upsert(ctx, &models.RateCounter{
				PrincipalID: 1, Endpoint: "search", Limit: 2, WindowSeconds: 60,
				CurrentCount: 2, WindowStart: time.Now().Add(-time.Hour),
			})
			n, err := limit.Increment(ctx, 1, "search")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("zeros an existing counter", func() {
			limit.Increment(ctx, 1, "search")
			Expect(limit.Reset(ctx, 1, "search")).To(Succeed())
			c, _ := repo.Get(ctx, 1, "search")
			Expect(c.CurrentCount).To(Equal(0))
		})
	})

	Describe("Cleanup", func() {
		It("removes counters older than the cutoff", func() {
			repo.Upsert(ctx, &models.RateCounter{PrincipalID: 1, Endpoint: "stale", WindowStart: time.Now().Add(-48 * time.Hour)})
			n, err := limit.Cleanup(ctx, time.Now().Add(-24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})
	})
})
