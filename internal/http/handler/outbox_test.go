package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/intake/internal/http/handler"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/service"
	"basegraph.app/intake/internal/store"
)

var _ = Describe("OutboxHandler", func() {
	var (
		router *gin.Engine
		svc    *mockOutboxService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockOutboxService{}
		h := handler.NewOutboxHandler(svc)
		router.GET("/outbox/dead-letters", h.DeadLetters)
		router.POST("/outbox/:id/replay", h.Replay)
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	Describe("DeadLetters", func() {
		It("passes the limit through and returns the entries", func() {
			var gotLimit int
			svc.deadLettersFn = func(_ context.Context, limit int) ([]model.OutboxEntry, error) {
				gotLimit = limit
				return []model.OutboxEntry{{ID: 7, Status: model.OutboxStatusDeadLetter, RetryCount: 3}}, nil
			}

			w := get("/outbox/dead-letters?limit=5")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(5))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["count"]).To(BeNumerically("==", 1))
		})

		It("uses the service default without a limit", func() {
			gotLimit := -1
			svc.deadLettersFn = func(_ context.Context, limit int) ([]model.OutboxEntry, error) {
				gotLimit = limit
				return []model.OutboxEntry{}, nil
			}
			Expect(get("/outbox/dead-letters").Code).To(Equal(http.StatusOK))
			Expect(gotLimit).To(Equal(0))
		})

		It("rejects a non-numeric limit", func() {
			Expect(get("/outbox/dead-letters?limit=lots").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Replay", func() {
		It("replays with the requested budget", func() {
			svc.replayFn = func(_ context.Context, id int64, budget int) (*model.OutboxEntry, error) {
				Expect(id).To(Equal(int64(7)))
				Expect(budget).To(Equal(2))
				return &model.OutboxEntry{ID: id, Status: model.OutboxStatusPending, RetryCount: 3, MaxRetries: 5}, nil
			}
			w := postJSON(router, "/outbox/7/replay", map[string]any{"budget": 2})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"status":"PENDING"`))
		})

		It("accepts an empty body", func() {
			svc.replayFn = func(_ context.Context, id int64, budget int) (*model.OutboxEntry, error) {
				Expect(budget).To(BeZero())
				return &model.OutboxEntry{ID: id, Status: model.OutboxStatusPending}, nil
			}
			Expect(postJSON(router, "/outbox/7/replay", nil).Code).To(Equal(http.StatusOK))
		})

		DescribeTable("maps errors to status codes",
			func(err error, code int) {
				svc.replayFn = func(context.Context, int64, int) (*model.OutboxEntry, error) {
					return nil, err
				}
				Expect(postJSON(router, "/outbox/7/replay", nil).Code).To(Equal(code))
			},
			Entry("unknown id", store.ErrNotFound, http.StatusNotFound),
			Entry("not dead-lettered", fmt.Errorf("%w: PENDING", service.ErrNotDeadLettered), http.StatusConflict),
			Entry("storage failure", fmt.Errorf("boom"), http.StatusInternalServerError),
		)

		It("rejects a non-numeric id", func() {
			Expect(postJSON(router, "/outbox/abc/replay", nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a negative budget", func() {
			Expect(postJSON(router, "/outbox/7/replay", map[string]any{"budget": -1}).Code).To(Equal(http.StatusBadRequest))
		})
	})
})
