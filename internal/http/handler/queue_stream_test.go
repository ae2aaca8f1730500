package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/internal/http/handler"
	"basegraph.app/intake/internal/model"
	"basegraph.app/intake/internal/queue"
)

var _ = Describe("QueueStreamHandler", func() {
	It("answers 503 without redis", func() {
		router := gin.New()
		router.GET("/queue/:destination/stream", handler.NewQueueStreamHandler(nil, "intake", 0).Stream)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/queue/general/stream", nil))
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("rejects destinations that are not slugs", func() {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
		DeferCleanup(client.Close)

		router := gin.New()
		router.GET("/queue/:destination/stream", handler.NewQueueStreamHandler(client, "intake", 0).Stream)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/queue/gen*eral/stream", nil))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("streams entries of the destination as server-sent events", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		ctx := context.Background()
		q, err := queue.NewRedisQueue(ctx, client, queue.RedisConfig{
			Stream: queue.StreamName("intake", "general"),
			Group:  "intake_workers",
			MaxLen: 100,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = q.Push(ctx, queue.Message{
			Kind:          model.OutboxEventIntakeClassified,
			Event:         model.IntakeEvent{ID: "evt-1", RoutedTo: model.RouteGeneral},
			OutboxID:      11,
			CorrelationID: "corr-1",
		})
		Expect(err).NotTo(HaveOccurred())

		router := gin.New()
		router.GET("/queue/:destination/stream", handler.NewQueueStreamHandler(client, "intake", 50*time.Millisecond).Stream)

		reqCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/queue/general/stream?last_id=0", nil).WithContext(reqCtx)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Header().Get("Content-Type")).To(Equal("text/event-stream"))
		body := w.Body.String()
		Expect(body).To(ContainSubstring("event: ping\ndata: ready"))
		Expect(body).To(ContainSubstring("event: intake.classified"))
		Expect(body).To(ContainSubstring(`"event_id":"evt-1"`))
		Expect(body).To(ContainSubstring(`"routed_to":"general"`))
		Expect(body).To(ContainSubstring(`"correlation_id":"corr-1"`))
	})
})
