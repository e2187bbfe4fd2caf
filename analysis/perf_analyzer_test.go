package analysis

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("PerfAnalyzer", func() {
	var (
		mockCtrl *gomock.Controller
		backend  *MockPerfBackend
		clock    *timing.ManualClock
		q        *queueing.TimedQueue[int]
		analyzer *PerfAnalyzer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backend = NewMockPerfBackend(mockCtrl)
		clock = timing.NewManualClock(0)
		q = queueing.MakeTimedQueueBuilder[int]().
			WithClock(clock).
			WithLatency(1).
			Build("Link")

		analyzer = MakePerfAnalyzerBuilder().
			WithTimeTeller(clock).
			WithBackend(backend).
			Build()
		analyzer.RegisterQueue(q)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should report the average level of registered queues", func() {
		q.MustWrite(1)
		q.MustWrite(2)

		clock.Set(4)
		q.MustRead()

		clock.Set(8)

		backend.EXPECT().AddDataEntry(PerfEntry{
			Start:     0,
			End:       8,
			Where:     "Link",
			What:      "Level",
			EntryType: "Queue",
			Value:     1.5,
		})
		backend.EXPECT().Flush()

		analyzer.Summarize()

		Expect(analyzer.LatestEntries()).To(HaveLen(1))
		Expect(analyzer.LatestEntries()[0].Value).To(Equal(1.5))
	})

	It("should refuse to register a queue twice", func() {
		Expect(func() { analyzer.RegisterQueue(q) }).To(Panic())
	})

	It("should require a clock and a backend", func() {
		Expect(func() {
			MakePerfAnalyzerBuilder().WithBackend(backend).Build()
		}).To(Panic())

		Expect(func() {
			MakePerfAnalyzerBuilder().WithTimeTeller(clock).Build()
		}).To(Panic())
	})
})

var _ = Describe("Perf backends", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should write entries into a CSV file", func() {
		name := filepath.Join(GinkgoT().TempDir(), "perf")

		b, err := NewCSVBackend(name)
		Expect(err).NotTo(HaveOccurred())

		b.AddDataEntry(PerfEntry{
			Start:     0,
			End:       10,
			Where:     "Link",
			What:      "Level",
			EntryType: "Queue",
			Value:     0.5,
		})
		Expect(b.Close()).To(Succeed())

		content, err := os.ReadFile(name + ".csv")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal(
			"Start,End,Where,What,EntryType,Value,Unit\n" +
				"0,10,Link,Level,Queue,0.5000000000,\n"))
	})

	It("should write entries into a data recorder", func() {
		recorder.EXPECT().CreateTable(PerfTable, perfRow{})

		b := NewRecorderBackend(recorder)

		recorder.EXPECT().InsertData(PerfTable, perfRow{
			Start:     3,
			End:       6,
			Where:     "Link",
			What:      "Level",
			EntryType: "Queue",
			Value:     2,
		})
		recorder.EXPECT().Flush()

		b.AddDataEntry(PerfEntry{
			Start:     3,
			End:       6,
			Where:     "Link",
			What:      "Level",
			EntryType: "Queue",
			Value:     2,
		})
		b.Flush()
	})
})
