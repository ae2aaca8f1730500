//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"basegraph.app/intake/core/db"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/store"
)

// startPostgres returns a DSN for a migrated database. INTAKE_TEST_DATABASE_URL
// points the suite at an existing server; otherwise a container is started.
func startPostgres(ctx context.Context) string {
	if dsn := os.Getenv("INTAKE_TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "intake",
			"POSTGRES_PASSWORD": "intake",
			"POSTGRES_DB":       "intake",
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	Expect(err).NotTo(HaveOccurred(), "starting postgres container")
	DeferCleanup(func(ctx SpecContext) {
		Expect(pg.Terminate(ctx)).To(Succeed())
	})

	host, err := pg.Host(ctx)
	Expect(err).NotTo(HaveOccurred())
	port, err := pg.MappedPort(ctx, "5432/tcp")
	Expect(err).NotTo(HaveOccurred())

	return fmt.Sprintf("postgres://intake:intake@%s:%s/intake?sslmode=disable", host, port.Port())
}

var _ = Describe("Postgres stores", Ordered, func() {
	var (
		ctx      context.Context
		database *db.DB
		stores   *store.Stores
		t0       time.Time
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		database, err = db.New(ctx, db.Config{DSN: startPostgres(ctx), MaxConns: 4, MinConns: 1})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)

		Expect(database.Migrate(ctx)).To(Succeed())
		stores = store.NewStores(database.Querier())
	})

	BeforeEach(func() {
		_, err := database.Querier().Exec(ctx, `TRUNCATE intake_events, outbox_entries`)
		Expect(err).NotTo(HaveOccurred())
		t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	Describe("outbox", func() {
		var outbox store.OutboxStore

		BeforeEach(func() {
			outbox = stores.Outbox()
		})

		It("round-trips an entry", func() {
			cause, corr := "evt-1", "corr-1"
			e := newEntry(1, t0)
			e.CausationID = &cause
			e.CorrelationID = &corr
			Expect(outbox.Add(ctx, e)).To(Succeed())

			got, err := outbox.GetByID(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CreatedAt).To(BeTemporally("==", t0))
			Expect(got.EventType).To(Equal(model.OutboxEventIntakeReceived))
			Expect(got.Status).To(Equal(model.OutboxStatusPending))
			Expect(got.Payload).To(MatchJSON(`{"n": 1}`))
			Expect(got.CausationID).To(HaveValue(Equal("evt-1")))
			Expect(got.CorrelationID).To(HaveValue(Equal("corr-1")))
			Expect(got.PublishedAt).To(BeNil())
		})

		It("returns PENDING and FAILED entries oldest first", func() {
			failed := newEntry(2, t0.Add(time.Second))
			published := newEntry(3, t0.Add(-time.Second))
			dead := newEntry(4, t0.Add(-2*time.Second))
			for _, e := range []*model.OutboxEntry{newEntry(5, t0.Add(2*time.Second)), failed, newEntry(1, t0), published, dead} {
				Expect(outbox.Add(ctx, e)).To(Succeed())
			}

			Expect(failed.MarkFailed("queue down")).To(Succeed())
			Expect(outbox.Update(ctx, failed)).To(Succeed())
			Expect(published.MarkPublished(t0)).To(Succeed())
			Expect(outbox.Update(ctx, published)).To(Succeed())
			for i := 0; i < 3; i++ {
				Expect(dead.MarkFailed("x")).To(Succeed())
			}
			Expect(outbox.Update(ctx, dead)).To(Succeed())

			pending, err := outbox.GetPending(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]int64, len(pending))
			for i, e := range pending {
				ids[i] = e.ID
			}
			Expect(ids).To(Equal([]int64{1, 2, 5}))
			Expect(pending[1].Status).To(Equal(model.OutboxStatusFailed))
			Expect(pending[1].LastError).To(HaveValue(Equal("queue down")))

			limited, err := outbox.GetPending(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(limited).To(HaveLen(2))

			letters, err := outbox.GetDeadLetters(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(letters).To(HaveLen(1))
			Expect(letters[0].ID).To(Equal(int64(4)))
			Expect(letters[0].RetryCount).To(Equal(3))
		})

		It("never lowers the stored retry count", func() {
			e := newEntry(1, t0)
			Expect(outbox.Add(ctx, e)).To(Succeed())
			Expect(e.MarkFailed("x")).To(Succeed())
			Expect(e.MarkFailed("x")).To(Succeed())
			Expect(outbox.Update(ctx, e)).To(Succeed())

			stale := e.Clone()
			stale.RetryCount = 0
			Expect(outbox.Update(ctx, stale)).To(Succeed())

			got, err := outbox.GetByID(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RetryCount).To(Equal(2))
		})

		It("refuses to move PUBLISHED or DEAD_LETTER entries except by replay", func() {
			published := newEntry(1, t0)
			dead := newEntry(2, t0)
			Expect(outbox.Add(ctx, published)).To(Succeed())
			Expect(outbox.Add(ctx, dead)).To(Succeed())

			Expect(published.MarkPublished(t0)).To(Succeed())
			Expect(outbox.Update(ctx, published)).To(Succeed())
			for i := 0; i < 3; i++ {
				Expect(dead.MarkFailed("x")).To(Succeed())
			}
			Expect(outbox.Update(ctx, dead)).To(Succeed())

			stale := published.Clone()
			stale.Status = model.OutboxStatusFailed
			err := outbox.Update(ctx, stale)
			Expect(errors.Is(err, store.ErrTerminalState)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("status=PUBLISHED")))

			stale = dead.Clone()
			stale.Status = model.OutboxStatusPublished
			Expect(errors.Is(outbox.Update(ctx, stale), store.ErrTerminalState)).To(BeTrue())

			Expect(dead.Replay(2)).To(Succeed())
			Expect(outbox.Update(ctx, dead)).To(Succeed())

			got, err := outbox.GetByID(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.OutboxStatusPending))
			Expect(got.RetryCount).To(Equal(3))
			Expect(got.MaxRetries).To(Equal(5))
		})

		It("maps unique violations to ErrDuplicate", func() {
			cause := "evt-1"
			a := newEntry(1, t0)
			a.CausationID = &cause
			b := newEntry(2, t0)
			b.CausationID = &cause
			Expect(outbox.Add(ctx, a)).To(Succeed())

			err := outbox.Add(ctx, b)
			Expect(errors.Is(err, store.ErrDuplicate)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("outbox_entries_causation_uidx")))

			Expect(errors.Is(outbox.Add(ctx, newEntry(1, t0)), store.ErrDuplicate)).To(BeTrue())

			other := "email-assistant"
			c := newEntry(3, t0)
			c.CausationID = &cause
			c.Destination = other
			Expect(outbox.Add(ctx, c)).To(Succeed())
		})

		It("reports unknown ids", func() {
			_, err := outbox.GetByID(ctx, 99)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
			Expect(errors.Is(outbox.Update(ctx, newEntry(99, t0)), store.ErrNotFound)).To(BeTrue())
		})

		It("counts entries by status", func() {
			published := newEntry(1, t0)
			Expect(outbox.Add(ctx, published)).To(Succeed())
			Expect(outbox.Add(ctx, newEntry(2, t0))).To(Succeed())
			Expect(published.MarkPublished(t0)).To(Succeed())
			Expect(outbox.Update(ctx, published)).To(Succeed())

			counts, err := outbox.CountByStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal(map[model.OutboxStatus]int64{
				model.OutboxStatusPublished: 1,
				model.OutboxStatusPending:   1,
			}))
		})
	})

	Describe("intake events", func() {
		var events store.IntakeEventStore

		newEvent := func(id string, at time.Time) *model.IntakeEvent {
			return &model.IntakeEvent{
				ID:          id,
				Type:        model.EventTypeNote,
				Timestamp:   at,
				Content:     "שלום, meeting notes",
				ContentType: model.ContentTypeText,
				Metadata:    map[string]any{"source": "telegram"},
			}
		}

		BeforeEach(func() {
			events = stores.IntakeEvents()
		})

		It("stores an unclassified event with NULL classification columns", func() {
			Expect(events.Create(ctx, newEvent("evt-1", t0))).To(Succeed())

			got, err := events.GetByID(ctx, "evt-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Content).To(Equal("שלום, meeting notes"))
			Expect(got.Domain).To(BeEmpty())
			Expect(got.RoutedTo).To(BeEmpty())
			Expect(got.ProductSignals).To(BeEmpty())
			Expect(got.Metadata).To(HaveKeyWithValue("source", "telegram"))
			Expect(got.DedupeKey).To(BeNil())
			Expect(got.Classified()).To(BeFalse())
		})

		It("deduplicates with ON CONFLICT and returns the stored event", func() {
			key := "telegram:123"
			first := newEvent("evt-1", t0)
			first.DedupeKey = &key
			second := newEvent("evt-2", t0.Add(time.Second))
			second.DedupeKey = &key
			second.Content = "different"

			got, created, err := events.CreateOrGet(ctx, first)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(got.ID).To(Equal("evt-1"))

			got, created, err = events.CreateOrGet(ctx, second)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(got.ID).To(Equal("evt-1"))
			Expect(got.Content).To(Equal("שלום, meeting notes"))

			_, err = events.GetByID(ctx, "evt-2")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("creates events without a dedupe key every time", func() {
			_, created, err := events.CreateOrGet(ctx, newEvent("evt-1", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			_, created, err = events.CreateOrGet(ctx, newEvent("evt-2", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
		})

		It("updates classification and lists only unprocessed events in order", func() {
			Expect(events.Create(ctx, newEvent("evt-2", t0.Add(time.Second)))).To(Succeed())
			Expect(events.Create(ctx, newEvent("evt-1", t0))).To(Succeed())
			Expect(events.Create(ctx, newEvent("evt-3", t0.Add(2*time.Second)))).To(Succeed())

			e := newEvent("evt-1", t0)
			e.Domain = model.DomainBusiness
			e.Priority = model.PriorityP2
			e.Category = "client"
			e.ProductPotential = 0.5
			e.ProductSignals = []string{"built", "automate"}
			e.RoutedTo = model.RouteEmailAssistant
			Expect(events.UpdateClassification(ctx, e)).To(Succeed())
			Expect(events.MarkProcessed(ctx, "evt-1")).To(Succeed())
			Expect(events.MarkProcessed(ctx, "evt-1")).To(Succeed())

			got, err := events.GetByID(ctx, "evt-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Domain).To(Equal(model.DomainBusiness))
			Expect(got.Priority).To(Equal(model.PriorityP2))
			Expect(got.Category).To(Equal("client"))
			Expect(got.ProductSignals).To(Equal([]string{"built", "automate"}))
			Expect(got.Processed).To(BeTrue())

			unprocessed, err := events.ListUnprocessed(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(unprocessed).To(HaveLen(2))
			Expect(unprocessed[0].ID).To(Equal("evt-2"))
			Expect(unprocessed[1].ID).To(Equal("evt-3"))

			Expect(errors.Is(events.MarkProcessed(ctx, "missing"), store.ErrNotFound)).To(BeTrue())
			Expect(errors.Is(events.UpdateClassification(ctx, newEvent("missing", t0)), store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("transactions", func() {
		It("rolls back the event and its outbox entry together", func() {
			boom := errors.New("boom")
			err := database.WithTx(ctx, func(q db.Querier) error {
				tx := store.NewStores(q)
				if err := tx.IntakeEvents().Create(ctx, &model.IntakeEvent{
					ID: "evt-1", Type: model.EventTypeNote, Timestamp: t0,
					Content: "x", ContentType: model.ContentTypeText,
				}); err != nil {
					return err
				}
				if err := tx.Outbox().Add(ctx, newEntry(1, t0)); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			_, err = stores.IntakeEvents().GetByID(ctx, "evt-1")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
			pending, err := stores.Outbox().GetPending(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
