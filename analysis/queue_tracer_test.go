package analysis

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/timedfifo/idgen"
	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/mock/gomock"
)

var _ = Describe("QueueTracer", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
		clock    *timing.ManualClock
		tracer   *QueueTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
		clock = timing.NewManualClock(3)

		recorder.EXPECT().CreateTable(QueueEventTable, QueueEvent{})
		tracer = NewQueueTracer(recorder, idgen.New())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record writes and reads of a timed queue", func() {
		q := queueing.MakeTimedQueueBuilder[string]().
			WithClock(clock).
			WithLatency(2).
			WithHook(tracer).
			Build("Link")

		gomock.InOrder(
			recorder.EXPECT().InsertData(QueueEventTable, QueueEvent{
				ID:        1,
				Seq:       1,
				Queue:     "Link",
				Kind:      EventWrite,
				Cycle:     3,
				ReadyTime: 5,
				Size:      1,
				Count:     1,
			}),
			recorder.EXPECT().InsertData(QueueEventTable, QueueEvent{
				ID:        2,
				Seq:       2,
				Queue:     "Link",
				Kind:      EventRead,
				Cycle:     5,
				ReadyTime: 5,
				Size:      0,
				Count:     1,
			}),
		)

		q.MustWrite("a")
		clock.Set(5)
		q.MustRead()
	})

	It("should record commits of a stable queue", func() {
		q := queueing.MakeStableTimedQueueBuilder[int]().
			WithClock(clock).
			WithDepth(4).
			WithHook(tracer).
			Build("Pipe")

		q.OnCycleBoundary(3)
		q.MustWrite(1)
		q.MustWrite(2)

		recorder.EXPECT().InsertData(QueueEventTable, gomock.Any()).Times(2)
		recorder.EXPECT().InsertData(QueueEventTable, QueueEvent{
			ID:    3,
			Seq:   3,
			Queue: "Pipe",
			Kind:  EventCommit,
			Cycle: 3,
			Size:  2,
			Count: 2,
		})

		Expect(q.EndCycle()).To(Succeed())
	})

	It("should ignore other hook positions", func() {
		tracer.Func(hooking.HookCtx{Pos: timing.HookPosCycleBoundary})
	})
})

var _ = Describe("LogHook", func() {
	It("should log queue events with fields", func() {
		logger, hook := test.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)

		clock := timing.NewManualClock(7)
		q := queueing.MakeTimedQueueBuilder[string]().
			WithClock(clock).
			WithHook(NewLogHook(logger, logrus.DebugLevel)).
			Build("Link")

		q.MustWrite("hello")

		entry := hook.LastEntry()
		Expect(entry).NotTo(BeNil())
		Expect(entry.Level).To(Equal(logrus.DebugLevel))
		Expect(entry.Message).To(Equal("queue write"))
		Expect(entry.Data).To(HaveKeyWithValue("queue", "Link"))
		Expect(entry.Data).To(HaveKeyWithValue("cycle", uint64(7)))
		Expect(entry.Data).To(HaveKeyWithValue("ready_time", uint64(8)))
		Expect(entry.Data).To(HaveKeyWithValue("payload", "hello"))
		Expect(entry.Data).To(HaveKeyWithValue("seq", uint64(1)))
	})

	It("should stay quiet when the level is disabled", func() {
		logger := logrus.New()
		buf := &bytes.Buffer{}
		logger.SetOutput(buf)
		logger.SetLevel(logrus.InfoLevel)

		h := NewLogHook(logger, logrus.DebugLevel)
		h.Func(hooking.HookCtx{Pos: queueing.HookPosQueueWrite})

		Expect(buf.Len()).To(Equal(0))
	})
})
