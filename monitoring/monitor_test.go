package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
	"go.uber.org/mock/gomock"
)

func get(h http.Handler, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	return rec
}

func makeQueue(
	clock timing.TimeTeller,
	name string,
	depth, size int,
) *queueing.TimedQueue[int] {
	q := queueing.MakeTimedQueueBuilder[int]().
		WithClock(clock).
		WithDepth(depth).
		Build(name)

	for i := 0; i < size; i++ {
		q.MustWrite(i)
	}

	return q
}

func queueNames(body []byte) []string {
	var rsp []queueRsp
	Expect(json.Unmarshal(body, &rsp)).To(Succeed())

	names := make([]string, 0, len(rsp))
	for _, r := range rsp {
		names = append(names, r.Queue)
	}

	return names
}

var _ = Describe("Monitor", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEngine
		clock    *timing.ManualClock
		m        *Monitor
		router   http.Handler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEngine(mockCtrl)
		clock = timing.NewManualClock(0)

		m = NewMonitor()
		m.RegisterEngine(engine)
		router = m.Router()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should report the current cycle", func() {
		engine.EXPECT().CurrentTime().Return(timing.VTimeInCycle(42))

		rec := get(router, "/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"now":42}`))
	})

	It("should pause and continue the engine", func() {
		gomock.InOrder(
			engine.EXPECT().Pause(),
			engine.EXPECT().Continue(),
		)

		Expect(get(router, "/api/pause").Code).To(Equal(http.StatusOK))
		Expect(get(router, "/api/continue").Code).To(Equal(http.StatusOK))
	})

	It("should run the engine in the background", func() {
		done := make(chan struct{})
		engine.EXPECT().Run().DoAndReturn(func() error {
			close(done)
			return nil
		})

		Expect(get(router, "/api/run").Code).To(Equal(http.StatusAccepted))
		Eventually(done).Should(BeClosed())
	})

	It("should refuse engine requests without an engine", func() {
		router = NewMonitor().Router()

		Expect(get(router, "/api/now").Code).
			To(Equal(http.StatusServiceUnavailable))
	})

	Context("with queues", func() {
		BeforeEach(func() {
			m.RegisterQueue(makeQueue(clock, "A", 4, 1))
			m.RegisterQueue(makeQueue(clock, "B", 2, 1))
			m.RegisterQueue(makeQueue(clock, "C", 10, 3))
		})

		It("should sort queues by percent by default", func() {
			rec := get(router, "/api/queues")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(queueNames(rec.Body.Bytes())).To(Equal([]string{"B", "C", "A"}))
		})

		It("should sort queues by level", func() {
			rec := get(router, "/api/queues?sort=level")

			Expect(queueNames(rec.Body.Bytes())).To(Equal([]string{"C", "B", "A"}))
		})

		It("should select a window", func() {
			rec := get(router, "/api/queues?sort=level&limit=1&offset=1")
			Expect(queueNames(rec.Body.Bytes())).To(Equal([]string{"B"}))

			rec = get(router, "/api/queues?offset=5")
			Expect(queueNames(rec.Body.Bytes())).To(BeEmpty())
		})

		It("should not overflow with a huge limit", func() {
			rec := get(router,
				"/api/queues?sort=level&limit=9223372036854775807&offset=1")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(queueNames(rec.Body.Bytes())).To(Equal([]string{"B", "A"}))
		})

		It("should reject bad parameters", func() {
			Expect(get(router, "/api/queues?sort=name").Code).
				To(Equal(http.StatusBadRequest))
			Expect(get(router, "/api/queues?limit=x").Code).
				To(Equal(http.StatusBadRequest))
			Expect(get(router, "/api/queues?offset=-1").Code).
				To(Equal(http.StatusBadRequest))
		})

		It("should report queue details", func() {
			Expect(get(router, "/api/queue/C").Code).To(Equal(http.StatusOK))
			Expect(get(router, "/api/queue/D").Code).
				To(Equal(http.StatusNotFound))
		})

		It("should refuse to register a queue twice", func() {
			Expect(func() {
				m.RegisterQueue(makeQueue(clock, "A", 1, 0))
			}).To(Panic())
		})
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("Cycles", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []progressBarRsp
		rec := get(router, "/api/progress")
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())

		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Cycles"))
		Expect(bars[0].Total).To(Equal(uint64(10)))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)

		rec = get(router, "/api/progress")
		Expect(rec.Body.String()).To(Equal("[]"))
	})

	It("should report no perf entries without an analyzer", func() {
		Expect(get(router, "/api/perf").Body.String()).To(Equal("[]"))
	})

	It("should report process resources", func() {
		rec := get(router, "/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("memory_size"))
	})

	It("should serve the web page", func() {
		rec := get(router, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("tfsim monitor"))
	})

	It("should not accept privileged ports", func() {
		Expect(NewMonitor().WithPortNumber(80).portNumber).To(Equal(0))
		Expect(NewMonitor().WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
