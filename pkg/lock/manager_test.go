package lock

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ = Describe("Manager", func() {
	var (
		ctx         context.Context
		redisServer *miniredis.Miniredis
		redisClient *redis.Client
		manager     *Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		redisServer, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		redisClient = redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
		manager = NewManager(redisClient, zap.NewNop())
	})

	AfterEach(func() {
		redisClient.Close()
		redisServer.Close()
	})

	Describe("Acquire", func() {
		It("grants the lease to the first caller", func() {
			token, ok, err := manager.Acquire(ctx, "lock:workspace:ws-1:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(token).NotTo(BeEmpty())
		})

		It("denies a second caller while the lease is held", func() {
			_, ok1, err := manager.Acquire(ctx, "lock:workspace:ws-1:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok1).To(BeTrue())

			_, ok2, err := manager.Acquire(ctx, "lock:workspace:ws-1:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok2).To(BeFalse())
		})

		It("grants a new lease once the previous one is released", func() {
			token, _, _ := manager.Acquire(ctx, "lock:workspace:ws-2:hydration", time.Hour)
			Expect(manager.Release(ctx, "lock:workspace:ws-2:hydration", token)).To(Succeed())

			_, ok, err := manager.Acquire(ctx, "lock:workspace:ws-2:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Release", func() {
		It("is a no-op when the token does not match the current owner", func() {
			manager.Acquire(ctx, "lock:workspace:ws-3:hydration", time.Hour)
			Expect(manager.Release(ctx, "lock:workspace:ws-3:hydration", "not-the-owner")).To(Succeed())

			_, ok, err := manager.Acquire(ctx, "lock:workspace:ws-3:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Extend", func() {
		It("refreshes the TTL for the current owner", func() {
			token, _, _ := manager.Acquire(ctx, "lock:workspace:ws-4:hydration", time.Minute)
			extended, err := manager.Extend(ctx, "lock:workspace:ws-4:hydration", token, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(extended).To(BeTrue())
		})

		It("refuses to extend for a non-owner token", func() {
			manager.Acquire(ctx, "lock:workspace:ws-5:hydration", time.Minute)
			extended, err := manager.Extend(ctx, "lock:workspace:ws-5:hydration", "not-the-owner", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(extended).To(BeFalse())
		})
	})

	Describe("when the backend is unreachable", func() {
		It("degrades to always-granted locking", func() {
			redisServer.Close()

			token, ok, err := manager.Acquire(ctx, "lock:workspace:ws-6:hydration", time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(token).To(Equal(degradedToken))

			Expect(manager.Release(ctx, "lock:workspace:ws-6:hydration", token)).To(Succeed())
		})
	})

	Describe("WorkspaceHydrationKey", func() {
		It("formats the canonical lock key", func() {
			Expect(WorkspaceHydrationKey("ws-1")).To(Equal("lock:workspace:ws-1:hydration"))
		})
	})
})
