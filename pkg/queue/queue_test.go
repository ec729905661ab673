package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

var _ = Describe("Queue", func() {
	var (
		mini   *miniredis.Miniredis
		client *redis.Client
		q      *Queue
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mini, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mini.Addr()})
		q = New(client, zap.NewNop())
		ctx = context.Background()
	})

	AfterEach(func() {
		mini.Close()
	})

	It("delivers an enqueued envelope to a consumer group member", func() {
		workspaceID := "ws-1"
		userID := 42
		payload := map[string]string{"source_id": "gdrive-1"}
		Expect(q.Enqueue(ctx, JobHydration, payload, Headers{
			CorrelationID: "corr-1", WorkspaceID: &workspaceID, UserID: &userID,
		})).To(Succeed())

		Expect(q.EnsureGroup(ctx, JobHydration, "workers")).To(Succeed())

		messages, err := q.Read(ctx, JobHydration, "workers", "consumer-1", 10, 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].Envelope.JobType).To(Equal(JobHydration))
		Expect(messages[0].Envelope.Headers.CorrelationID).To(Equal("corr-1"))
		Expect(*messages[0].Envelope.Headers.WorkspaceID).To(Equal("ws-1"))
		Expect(*messages[0].Envelope.Headers.UserID).To(Equal(42))

		var decoded map[string]string
		Expect(json.Unmarshal(messages[0].Envelope.Payload, &decoded)).To(Succeed())
		Expect(decoded["source_id"]).To(Equal("gdrive-1"))
	})

	It("does not redeliver a message already acknowledged", func() {
		Expect(q.Enqueue(ctx, JobEvaluation, map[string]string{"suite": "regression"}, Headers{CorrelationID: "c2"})).To(Succeed())
		Expect(q.EnsureGroup(ctx, JobEvaluation, "workers")).To(Succeed())

		first, err := q.Read(ctx, JobEvaluation, "workers", "consumer-1", 10, 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))

		Expect(q.Ack(ctx, JobEvaluation, "workers", first[0].ID)).To(Succeed())

		pending, err := q.Pending(ctx, JobEvaluation, "workers")
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal(int64(0)))
	})

	It("keeps an unacknowledged message pending for redelivery", func() {
		Expect(q.Enqueue(ctx, JobToolRun, map[string]string{"tool": "search"}, Headers{CorrelationID: "c3"})).To(Succeed())
		Expect(q.EnsureGroup(ctx, JobToolRun, "workers")).To(Succeed())

		_, err := q.Read(ctx, JobToolRun, "workers", "consumer-1", 10, 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		pending, err := q.Pending(ctx, JobToolRun, "workers")
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal(int64(1)))
	})

	It("tolerates EnsureGroup being called twice", func() {
		Expect(q.EnsureGroup(ctx, JobLearning, "workers")).To(Succeed())
		Expect(q.EnsureGroup(ctx, JobLearning, "workers")).To(Succeed())
	})

	It("returns no messages without blocking forever when the stream is empty", func() {
		Expect(q.EnsureGroup(ctx, JobHydration, "workers")).To(Succeed())
		messages, err := q.Read(ctx, JobHydration, "workers", "consumer-1", 10, 10*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())
	})
})
