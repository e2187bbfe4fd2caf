package simulation

import (
	"sync"

	"github.com/sarchlab/timedfifo/monitoring"
	"github.com/sarchlab/timedfifo/timing"
)

// Packet is the payload moved from a Producer to a Consumer.
type Packet struct {
	Seq    uint64
	SentAt timing.VTimeInCycle
}

// PacketSender is the write side of a queue carrying packets.
type PacketSender interface {
	CanWrite() bool
	Write(p Packet) error
}

// PacketReceiver is the read side of a queue carrying packets.
type PacketReceiver interface {
	TryRead() (Packet, bool)
}

// Producer writes a fixed number of numbered packets, at most one per tick.
type Producer struct {
	*TickingComponent

	out      PacketSender
	total    uint64
	progress *monitoring.ProgressBar

	lock    sync.Mutex
	sent    uint64
	stalled uint64
}

// NewProducer creates a Producer that sends total packets into out.
func NewProducer(
	name string,
	engine timing.EventScheduler,
	freq *timing.FreqDomain,
	out PacketSender,
	total uint64,
) *Producer {
	p := &Producer{
		out:   out,
		total: total,
	}
	p.TickingComponent = NewTickingComponent(name, engine, freq, p)

	return p
}

// Tick sends the next packet if the queue accepts it.
func (p *Producer) Tick() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.sent >= p.total {
		return false
	}

	if !p.out.CanWrite() {
		p.stalled++
		return true
	}

	err := p.out.Write(Packet{Seq: p.sent, SentAt: p.CurrentTime()})
	if err != nil {
		panic(err)
	}

	p.sent++

	if p.progress != nil {
		p.progress.IncrementInProgress(1)
	}

	return p.sent < p.total
}

// Sent returns the number of packets written.
func (p *Producer) Sent() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.sent
}

// Stalled returns the number of ticks the queue was full.
func (p *Producer) Stalled() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.stalled
}

// ConsumerStats summarizes what a Consumer received.
type ConsumerStats struct {
	Received     uint64
	OutOfOrder   uint64
	TotalLatency timing.VTimeInCycle
	MinLatency   timing.VTimeInCycle
	MaxLatency   timing.VTimeInCycle
	LastReceive  timing.VTimeInCycle
}

// AverageLatency returns the mean number of cycles between a write and the
// read of the same packet.
func (s ConsumerStats) AverageLatency() float64 {
	if s.Received == 0 {
		return 0
	}

	return float64(s.TotalLatency) / float64(s.Received)
}

// Consumer reads at most one packet per tick until it has received the
// expected number of packets.
type Consumer struct {
	*TickingComponent

	in       PacketReceiver
	expected uint64
	progress *monitoring.ProgressBar

	lock    sync.Mutex
	nextSeq uint64
	stats   ConsumerStats
}

// NewConsumer creates a Consumer that expects total packets from in.
func NewConsumer(
	name string,
	engine timing.EventScheduler,
	freq *timing.FreqDomain,
	in PacketReceiver,
	total uint64,
) *Consumer {
	c := &Consumer{
		in:       in,
		expected: total,
	}
	c.TickingComponent = NewTickingComponent(name, engine, freq, c)

	return c
}

// Tick reads one packet if one is visible.
func (c *Consumer) Tick() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.stats.Received >= c.expected {
		return false
	}

	p, ok := c.in.TryRead()
	if !ok {
		return true
	}

	c.record(p)

	if c.progress != nil {
		c.progress.MoveInProgressToFinished(1)
	}

	return c.stats.Received < c.expected
}

func (c *Consumer) record(p Packet) {
	now := c.CurrentTime()
	latency := now - p.SentAt

	if p.Seq != c.nextSeq {
		c.stats.OutOfOrder++
	}

	c.nextSeq = p.Seq + 1

	if c.stats.Received == 0 || latency < c.stats.MinLatency {
		c.stats.MinLatency = latency
	}

	c.stats.Received++
	c.stats.TotalLatency += latency
	c.stats.MaxLatency = max(c.stats.MaxLatency, latency)
	c.stats.LastReceive = now
}

// Stats returns what the consumer received so far.
func (c *Consumer) Stats() ConsumerStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.stats
}
