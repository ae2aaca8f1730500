package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/intake/common/id"
	"basegraph.app/intake/core/config"
	"basegraph.app/intake/internal/classifier"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/service"
	"basegraph.app/intake/internal/store"
)

var _ = Describe("OutboxService", func() {
	var (
		ctx   context.Context
		memDB *store.MemoryDB
		svc   service.OutboxService
	)

	BeforeEach(func() {
		ctx = context.Background()
		memDB = store.NewMemoryDB()
		svc = service.NewOutboxService(memDB.Stores().Outbox(), memDB, 3)
	})

	deadLetter := func() *model.OutboxEntry {
		entry, err := model.NewOutboxEntry(id.New(), model.OutboxEventIntakeReceived, "intake", map[string]string{"k": "v"}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(memDB.Stores().Outbox().Add(ctx, entry)).To(Succeed())
		for range 3 {
			Expect(entry.MarkFailed("queue down")).To(Succeed())
			Expect(memDB.Stores().Outbox().Update(ctx, entry)).To(Succeed())
		}
		Expect(entry.Status).To(Equal(model.OutboxStatusDeadLetter))
		return entry
	}

	It("lists dead letters", func() {
		entry := deadLetter()
		dead, err := svc.DeadLetters(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].ID).To(Equal(entry.ID))
	})

	It("replays a dead letter with a fresh budget and keeps its retry count", func() {
		entry := deadLetter()
		replayed, err := svc.Replay(ctx, entry.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(replayed.Status).To(Equal(model.OutboxStatusPending))
		Expect(replayed.RetryCount).To(Equal(3))
		Expect(replayed.MaxRetries).To(Equal(6))

		pending, err := memDB.Stores().Outbox().GetPending(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("refuses to replay an entry that is not dead-lettered", func() {
		entry, err := model.NewOutboxEntry(id.New(), model.OutboxEventIntakeReceived, "intake", map[string]string{"k": "v"}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(memDB.Stores().Outbox().Add(ctx, entry)).To(Succeed())

		_, err = svc.Replay(ctx, entry.ID, 2)
		Expect(errors.Is(err, service.ErrNotDeadLettered)).To(BeTrue())
	})

	It("reports unknown ids", func() {
		_, err := svc.Replay(ctx, 12345, 2)
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("StatusService", func() {
	It("combines queue health, stream stats and outbox counts", func() {
		ctx := context.Background()
		memDB := store.NewMemoryDB()
		router := queue.NewEphemeralRouter(config.QueueConfig{StreamPrefix: "intake", MaxLen: 10}, "redis ping: connection refused")
		_, err := router.Publish(ctx, queue.IntakeDestination, queue.Message{Kind: model.OutboxEventIntakeReceived})
		Expect(err).NotTo(HaveOccurred())

		services := service.NewServices(memDB.Stores(), memDB, router, classifier.New(classifier.DefaultConfig(), nil, nil), 3)
		_, err = services.Intake().Ingest(ctx, service.IngestParams{Content: "hello"})
		Expect(err).NotTo(HaveOccurred())

		report, err := services.Status().Report(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Health.Degraded).To(BeTrue())
		Expect(report.Health.ConfiguredMode).To(Equal(queue.ModeDurable))
		Expect(report.Health.Mode).To(Equal(queue.ModeEphemeral))
		Expect(report.Streams).To(HaveLen(1))
		Expect(report.Streams[0].Stream).To(Equal("intake:intake"))
		Expect(report.Streams[0].Length).To(Equal(int64(1)))
		Expect(report.Streams[0].Degraded).To(BeTrue())
		Expect(report.Outbox[model.OutboxStatusPending]).To(Equal(int64(1)))
	})
})

var _ = Describe("ClassificationService", func() {
	It("classifies text synchronously", func() {
		svc := service.NewClassificationService(classifier.New(classifier.DefaultConfig(), nil, nil))
		res, err := svc.Classify(context.Background(), service.ClassifyParams{Text: "צריך לשלוח חשבונית ללקוח על הפרויקט"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RouteTo).To(Equal(model.RouteEmailAssistant))
	})

	It("accepts empty text", func() {
		svc := service.NewClassificationService(classifier.New(classifier.DefaultConfig(), nil, nil))
		res, err := svc.Classify(context.Background(), service.ClassifyParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Priority).To(Equal(model.PriorityP4))
	})
})

var _ = Describe("QueueAdminService", func() {
	It("lists and requeues a destination's dead letters", func() {
		ctx := context.Background()
		router := queue.NewEphemeralRouter(config.QueueConfig{StreamPrefix: "intake", MaxLen: 10}, "")
		q, err := router.Queue(ctx, queue.IntakeDestination)
		Expect(err).NotTo(HaveOccurred())
		_, err = q.Push(ctx, queue.Message{Kind: model.OutboxEventIntakeReceived, Event: model.IntakeEvent{ID: "evt-1"}})
		Expect(err).NotTo(HaveOccurred())
		msgs, err := q.ReadPending(ctx, "worker-a", 1, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(q.DeadLetter(ctx, msgs[0], "boom")).To(Succeed())

		svc := service.NewQueueAdminService(router)
		dead, err := svc.DeadLetters(ctx, queue.IntakeDestination, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))

		_, err = svc.Requeue(ctx, queue.IntakeDestination, dead[0].ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Requeue(ctx, queue.IntakeDestination, dead[0].ID)
		Expect(errors.Is(err, queue.ErrDeadLetterNotFound)).To(BeTrue())

		_, err = svc.DeadLetters(ctx, "bad:dest", 0)
		Expect(errors.Is(err, queue.ErrInvalidDestination)).To(BeTrue())
	})
})
