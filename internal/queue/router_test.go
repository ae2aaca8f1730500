package queue_test

import (
	"context"
	"errors"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/intake/core/config"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
)

var _ = Describe("Open", func() {
	var (
		ctx context.Context
		cfg config.QueueConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.QueueConfig{
			Mode:         config.QueueModeDurable,
			StreamPrefix: "intake",
			Group:        "intake_workers",
			MaxLen:       100,
		}
	})

	It("runs ephemeral when asked to", func() {
		cfg.Mode = config.QueueModeEphemeral
		r, err := queue.Open(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(r.Close)

		h := r.Health()
		Expect(h.Mode).To(Equal(queue.ModeEphemeral))
		Expect(h.Durable).To(BeFalse())
		Expect(h.Degraded).To(BeFalse())
		Expect(r.Redis()).To(BeNil())
	})

	It("runs durable against a reachable redis", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
		cfg.RedisURL = "redis://" + mr.Addr() + "/0"

		r, err := queue.Open(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(r.Close)

		Expect(r.Health().Durable).To(BeTrue())
		Expect(r.Redis()).NotTo(BeNil())

		id, err := r.Publish(ctx, string(model.RouteADRArchitect), newMessage("evt-1", "x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())
		Expect(mr.Exists("intake:adr-architect")).To(BeTrue())
	})

	It("fails when redis is unreachable and fallback is off", func() {
		cfg.RedisURL = "redis://127.0.0.1:1/0"
		_, err := queue.Open(ctx, cfg)
		Expect(errors.Is(err, queue.ErrBackendUnavailable)).To(BeTrue())
	})

	It("falls back to memory and reports degraded when allowed", func() {
		cfg.RedisURL = "redis://127.0.0.1:1/0"
		cfg.AllowFallback = true

		r, err := queue.Open(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		h := r.Health()
		Expect(h.ConfiguredMode).To(Equal(queue.ModeDurable))
		Expect(h.Mode).To(Equal(queue.ModeEphemeral))
		Expect(h.Degraded).To(BeTrue())
		Expect(h.DegradedReason).NotTo(BeEmpty())

		_, err = r.Publish(ctx, "intake", newMessage("evt-1", "x"))
		Expect(err).NotTo(HaveOccurred())

		stats, err := r.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats).To(HaveLen(1))
		Expect(stats[0].Stream).To(Equal("intake:intake"))
		Expect(stats[0].Degraded).To(BeTrue())
	})

	It("rejects unknown modes", func() {
		cfg.Mode = "sometimes"
		_, err := queue.Open(ctx, cfg)
		Expect(errors.Is(err, model.ErrUnknownValue)).To(BeTrue())
	})

	It("reuses the queue for a destination", func() {
		cfg.Mode = config.QueueModeEphemeral
		r, err := queue.Open(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		a, err := r.Queue(ctx, "intake")
		Expect(err).NotTo(HaveOccurred())
		b, err := r.Queue(ctx, "intake")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeIdenticalTo(b))
	})
})
