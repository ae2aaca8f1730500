package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
	"basegraph.app/intake/internal/service"
	"basegraph.app/intake/internal/store"
)

type failingOutboxTx struct {
	db *store.MemoryDB
}

// WithTx runs fn against the memory stores but fails every outbox insert.
func (f failingOutboxTx) WithTx(ctx context.Context, fn func(service.StoreProvider) error) error {
	return f.db.WithTx(ctx, func(p store.Provider) error {
		return fn(brokenOutboxProvider{Provider: p})
	})
}

type brokenOutboxProvider struct {
	store.Provider
}

func (p brokenOutboxProvider) Outbox() store.OutboxStore {
	return brokenOutbox{OutboxStore: p.Provider.Outbox()}
}

type brokenOutbox struct {
	store.OutboxStore
}

func (brokenOutbox) Add(context.Context, *model.OutboxEntry) error {
	return errors.New("disk full")
}

var _ = Describe("IntakeService", func() {
	var (
		ctx   context.Context
		memDB *store.MemoryDB
		svc   service.IntakeService
	)

	BeforeEach(func() {
		ctx = context.Background()
		memDB = store.NewMemoryDB()
		svc = service.NewIntakeService(memDB, 3, nil)
	})

	It("stores the event and stages an intake outbox entry together", func() {
		res, err := svc.Ingest(ctx, service.IngestParams{
			Content:       "  call mom  ",
			EventType:     "note",
			Metadata:      map[string]any{"device": "phone"},
			Source:        "telegram",
			CorrelationID: ptr("corr-1"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Duplicated).To(BeFalse())
		Expect(res.OutboxID).NotTo(BeZero())
		Expect(res.Event.Content).To(Equal("call mom"))
		Expect(res.Event.Type).To(Equal(model.EventTypeNote))
		Expect(res.Event.ContentType).To(Equal(model.ContentTypeText))
		Expect(res.Event.Metadata).To(HaveKeyWithValue("source", "telegram"))
		Expect(res.Event.Metadata).To(HaveKeyWithValue("device", "phone"))

		stored, err := memDB.Stores().IntakeEvents().GetByID(ctx, res.Event.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Processed).To(BeFalse())

		entry, err := memDB.Stores().Outbox().GetByID(ctx, res.OutboxID)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Status).To(Equal(model.OutboxStatusPending))
		Expect(entry.EventType).To(Equal(model.OutboxEventIntakeReceived))
		Expect(entry.Destination).To(Equal(queue.IntakeDestination))
		Expect(entry.MaxRetries).To(Equal(3))
		Expect(*entry.CorrelationID).To(Equal("corr-1"))
		Expect(*entry.CausationID).To(Equal(res.Event.ID))

		var payload model.IntakeEvent
		Expect(entry.DecodePayload(&payload)).To(Succeed())
		Expect(payload.ID).To(Equal(res.Event.ID))
	})

	It("dedupes by external id and stages nothing for the duplicate", func() {
		params := service.IngestParams{Content: "hello", Source: "email", ExternalID: ptr("msg-42")}
		first, err := svc.Ingest(ctx, params)
		Expect(err).NotTo(HaveOccurred())

		second, err := svc.Ingest(ctx, params)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Duplicated).To(BeTrue())
		Expect(second.OutboxID).To(BeZero())
		Expect(second.Event.ID).To(Equal(first.Event.ID))
		Expect(second.DedupeKey).To(Equal("email:message:msg-42"))

		counts, err := memDB.Stores().Outbox().CountByStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts[model.OutboxStatusPending]).To(Equal(int64(1)))
	})

	It("dedupes a resend that carries the same timestamp", func() {
		ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
		first, err := svc.Ingest(ctx, service.IngestParams{Content: "hello", Timestamp: &ts})
		Expect(err).NotTo(HaveOccurred())
		second, err := svc.Ingest(ctx, service.IngestParams{Content: "hello", Timestamp: &ts})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Duplicated).To(BeTrue())
		Expect(second.Event.ID).To(Equal(first.Event.ID))
	})

	It("rolls the event back when the outbox insert fails", func() {
		svc = service.NewIntakeService(failingOutboxTx{db: memDB}, 3, nil)
		_, err := svc.Ingest(ctx, service.IngestParams{Content: "hello"})
		Expect(err).To(MatchError(ContainSubstring("disk full")))

		events, err := memDB.Stores().IntakeEvents().ListUnprocessed(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	DescribeTable("rejects invalid input",
		func(params service.IngestParams) {
			_, err := svc.Ingest(ctx, params)
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		},
		Entry("blank content", service.IngestParams{Content: "   "}),
		Entry("unknown event type", service.IngestParams{Content: "x", EventType: "fax"}),
		Entry("unknown content type", service.IngestParams{Content: "x", ContentType: "pdf"}),
	)
})

func ptr[T any](v T) *T { return &v }
