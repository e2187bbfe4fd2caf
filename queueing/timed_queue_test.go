package queueing

import (
	"runtime"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/timing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("TimedQueue", func() {
	var (
		clock *timing.ManualClock
		q     *TimedQueue[int]
	)

	BeforeEach(func() {
		clock = timing.NewManualClock(100)
		q = MakeTimedQueueBuilder[int]().
			WithClock(clock).
			WithLatency(5).
			WithDepth(10).
			Build("Link")
	})

	Context("construction", func() {
		It("should reject a non-positive depth", func() {
			_, err := NewTimedQueue[int]("Q", clock, 1, 0)
			Expect(err).To(MatchError(ErrInvalidConfiguration))

			_, err = NewTimedQueue[int]("Q", clock, 1, -3)
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		})

		It("should reject a missing clock", func() {
			_, err := NewTimedQueue[int]("Q", nil, 1, 4)
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		})

		It("should reject an invalid name", func() {
			_, err := NewTimedQueue[int]("Q..Bad", clock, 1, 4)
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		})

		It("should panic when building with a bad configuration", func() {
			Expect(func() {
				MakeTimedQueueBuilder[int]().WithDepth(2).Build("NoClock")
			}).To(Panic())
		})

		It("should default to an unbounded depth", func() {
			unbounded := MakeTimedQueueBuilder[int]().
				WithClock(clock).
				Build("Unbounded")

			Expect(unbounded.Depth()).To(Equal(UnboundedDepth))
			Expect(unbounded.Latency()).To(Equal(timing.VTimeInCycle(1)))

			for i := 0; i < 1000; i++ {
				Expect(unbounded.Write(i)).To(Succeed())
			}
			Expect(unbounded.Size()).To(Equal(1000))
		})
	})

	It("should hide an element until its latency elapsed", func() {
		Expect(q.Write(42)).To(Succeed())

		clock.Set(104)
		Expect(q.Valid()).To(BeFalse())

		clock.Set(105)
		Expect(q.Valid()).To(BeTrue())

		v, err := q.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
		Expect(q.Valid()).To(BeFalse())
		Expect(q.Size()).To(Equal(0))
	})

	It("should break ties between writes in the same cycle", func() {
		Expect(q.SetDepth(4)).To(Succeed())
		q.SetLatency(1)

		Expect(q.Write(1)).To(Succeed())
		Expect(q.Write(2)).To(Succeed())

		clock.Set(101)
		Expect(q.MustRead()).To(Equal(1))
		Expect(q.Valid()).To(BeFalse())

		_, err := q.Read()
		Expect(err).To(MatchError(ErrNotReady))

		clock.Set(102)
		Expect(q.MustRead()).To(Equal(2))
	})

	It("should keep ready times increasing when the latency drops", func() {
		Expect(q.Write(1)).To(Succeed())
		q.SetLatency(0)
		Expect(q.Write(2)).To(Succeed())

		readyTime, ok := q.FrontReadyTime()
		Expect(ok).To(BeTrue())
		Expect(readyTime).To(Equal(timing.VTimeInCycle(105)))

		clock.Set(105)
		Expect(q.MustRead()).To(Equal(1))

		readyTime, _ = q.FrontReadyTime()
		Expect(readyTime).To(Equal(timing.VTimeInCycle(106)))
		Expect(q.Valid()).To(BeFalse())
	})

	It("should apply a new latency only to later writes", func() {
		Expect(q.Write(1)).To(Succeed())
		q.SetLatency(20)
		Expect(q.Write(2)).To(Succeed())

		clock.Set(105)
		Expect(q.MustRead()).To(Equal(1))

		clock.Set(119)
		Expect(q.Valid()).To(BeFalse())

		clock.Set(120)
		Expect(q.MustRead()).To(Equal(2))
	})

	Context("depth", func() {
		It("should reject a zero depth", func() {
			err := q.SetDepth(0)
			Expect(err).To(MatchError(ErrInvalidConfiguration))
			Expect(q.Depth()).To(Equal(10))
		})

		It("should refuse writes beyond the depth", func() {
			Expect(q.SetDepth(2)).To(Succeed())
			Expect(q.Write(1)).To(Succeed())
			Expect(q.Write(2)).To(Succeed())

			Expect(q.CanWrite()).To(BeFalse())
			Expect(q.Write(3)).To(MatchError(ErrCapacityExceeded))
			Expect(q.Size()).To(Equal(2))
			Expect(func() { q.MustWrite(3) }).To(Panic())
		})

		It("should keep elements when the depth shrinks below the size", func() {
			for i := 0; i < 4; i++ {
				q.MustWrite(i)
			}

			Expect(q.SetDepth(2)).To(Succeed())
			Expect(q.Size()).To(Equal(4))
			Expect(q.Write(9)).To(MatchError(ErrCapacityExceeded))

			clock.Set(200)
			q.MustRead()
			q.MustRead()
			Expect(q.Write(9)).To(MatchError(ErrCapacityExceeded))

			q.MustRead()
			Expect(q.Write(9)).To(Succeed())
		})
	})

	Context("reading", func() {
		It("should report an empty queue", func() {
			_, err := q.Read()
			Expect(err).To(MatchError(ErrEmptyQueue))

			_, err = q.Peek()
			Expect(err).To(MatchError(ErrEmptyQueue))

			Expect(func() { q.MustRead() }).To(Panic())
			Expect(func() { q.MustPeek() }).To(Panic())
		})

		It("should not touch the queue when TryRead fails", func() {
			q.MustWrite(7)

			v, ok := q.TryRead()
			Expect(ok).To(BeFalse())
			Expect(v).To(Equal(0))
			Expect(q.Size()).To(Equal(1))

			clock.Set(105)
			v, ok = q.TryRead()
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(7))
		})

		It("should peek without popping", func() {
			q.MustWrite(7)
			q.MustWrite(8)
			clock.Set(110)

			p1 := q.MustPeek()
			p2, err := q.Peek()
			Expect(err).NotTo(HaveOccurred())
			Expect(p2).To(BeIdenticalTo(p1))
			Expect(*p1).To(Equal(7))
			Expect(q.Size()).To(Equal(2))

			*p1 = 70
			Expect(q.MustRead()).To(Equal(70))
		})

		It("should answer Valid the same way until something changes", func() {
			q.MustWrite(7)
			clock.Set(105)

			for i := 0; i < 5; i++ {
				Expect(q.Valid()).To(BeTrue())
			}
			Expect(q.Size()).To(Equal(1))
		})
	})

	It("should clear the queue and keep ready times increasing", func() {
		q.SetLatency(1)
		q.MustWrite(1)
		q.MustWrite(2)
		q.Clear()

		Expect(q.Size()).To(Equal(0))

		q.MustWrite(3)
		readyTime, _ := q.FrontReadyTime()
		Expect(readyTime).To(Equal(timing.VTimeInCycle(103)))
	})

	It("should summarize itself", func() {
		q.MustWrite(1)
		q.MustWrite(2)
		clock.Set(105)

		s := q.Snapshot()
		Expect(s.Name).To(Equal("Link"))
		Expect(s.Size).To(Equal(2))
		Expect(s.Depth).To(Equal(10))
		Expect(s.Latency).To(Equal(timing.VTimeInCycle(5)))
		Expect(s.ReadyCount).To(Equal(1))
		Expect(s.HasFront).To(BeTrue())
		Expect(s.FrontReadyTime).To(Equal(timing.VTimeInCycle(105)))
		Expect(s.Stable).To(BeFalse())
	})

	It("should let a producer and a consumer run on different goroutines", func() {
		const n = 2000

		shared := MakeTimedQueueBuilder[int]().
			WithClock(clock).
			WithLatency(0).
			WithDepth(16).
			Build("Shared")

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			for i := 0; i < n; {
				if shared.Write(i) != nil {
					runtime.Gosched()
					continue
				}
				i++
			}
		}()

		received := make([]int, 0, n)
		go func() {
			defer wg.Done()
			for len(received) < n {
				v, ok := shared.TryRead()
				if !ok {
					clock.Advance(1)
					runtime.Gosched()
					continue
				}
				received = append(received, v)
			}
		}()

		wg.Wait()

		Expect(received).To(HaveLen(n))
		for i, v := range received {
			Expect(v).To(Equal(i))
		}
	})

	It("should number operations in the order they took effect", func() {
		const n = 500

		shared := MakeTimedQueueBuilder[int]().
			WithClock(clock).
			WithLatency(0).
			WithDepth(4).
			Build("Numbered")

		var (
			lock      sync.Mutex
			writeSeqs = make(map[int]uint64)
			readSeqs  = make(map[int]uint64)
			allSeqs   []uint64
		)

		shared.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			v := ctx.Item.(TimedElement[int]).Payload
			seq := ctx.Detail.(HookDetail).Seq

			lock.Lock()
			defer lock.Unlock()

			allSeqs = append(allSeqs, seq)
			if ctx.Pos == HookPosQueueWrite {
				writeSeqs[v] = seq
			} else {
				readSeqs[v] = seq
			}
		}))

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			for i := 0; i < n; {
				if shared.Write(i) != nil {
					runtime.Gosched()
					continue
				}
				i++
			}
		}()

		go func() {
			defer wg.Done()
			for got := 0; got < n; {
				if _, ok := shared.TryRead(); !ok {
					clock.Advance(1)
					runtime.Gosched()
					continue
				}
				got++
			}
		}()

		wg.Wait()

		Expect(allSeqs).To(HaveLen(2 * n))
		Expect(allSeqs).To(ContainElements(uint64(1), uint64(2*n)))

		seen := make(map[uint64]bool)
		for _, seq := range allSeqs {
			Expect(seen[seq]).To(BeFalse())
			Expect(seq).To(BeNumerically(">=", 1))
			Expect(seq).To(BeNumerically("<=", 2*n))
			seen[seq] = true
		}

		for i := 0; i < n; i++ {
			Expect(writeSeqs[i]).To(BeNumerically("<", readSeqs[i]))
		}
	})
})

var _ = Describe("TimedQueue with mocks", func() {
	var (
		mockCtrl *gomock.Controller
		clock    *MockTimeTeller
		hook     *MockHook
		q        *TimedQueue[string]
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		clock = NewMockTimeTeller(mockCtrl)
		hook = NewMockHook(mockCtrl)

		q = MakeTimedQueueBuilder[string]().
			WithClock(clock).
			WithLatency(2).
			WithDepth(4).
			WithHook(hook).
			Build("Mocked")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should read the clock on write and read", func() {
		clock.EXPECT().CurrentTime().Return(timing.VTimeInCycle(10))
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosQueueWrite))
			Expect(ctx.Domain).To(BeIdenticalTo(q))
			Expect(ctx.Item).To(Equal(TimedElement[string]{
				ReadyTime: 12,
				Payload:   "a",
			}))
			Expect(ctx.Detail).To(Equal(HookDetail{Now: 10, Size: 1, Seq: 1}))
		})
		Expect(q.Write("a")).To(Succeed())

		clock.EXPECT().CurrentTime().Return(timing.VTimeInCycle(12))
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosQueueRead))
			Expect(ctx.Detail).To(Equal(HookDetail{Now: 12, Size: 0, Seq: 2}))
		})
		Expect(q.MustRead()).To(Equal("a"))
	})

	It("should not invoke hooks for rejected operations", func() {
		clock.EXPECT().CurrentTime().Return(timing.VTimeInCycle(10))

		_, err := q.Read()
		Expect(err).To(MatchError(ErrEmptyQueue))
	})

	It("should not read the clock when the queue is full", func() {
		clock.EXPECT().CurrentTime().Return(timing.VTimeInCycle(10)).Times(4)
		hook.EXPECT().Func(gomock.Any()).Times(4)

		for i := 0; i < 4; i++ {
			q.MustWrite("x")
		}

		Expect(q.Write("y")).To(MatchError(ErrCapacityExceeded))
	})
})
