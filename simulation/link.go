package simulation

import (
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
)

// Link is a producer and a consumer connected by a timed queue.
type Link struct {
	Name     string
	Queue    queueing.Queue
	Producer *Producer
	Consumer *Consumer
}

// LinkResult summarizes a finished link.
type LinkResult struct {
	Name           string
	Sent           uint64
	Stalled        uint64
	Received       uint64
	OutOfOrder     uint64
	AverageLatency float64
	MinLatency     timing.VTimeInCycle
	MaxLatency     timing.VTimeInCycle
	FinishCycle    timing.VTimeInCycle
}

// Result summarizes the link.
func (l *Link) Result() LinkResult {
	stats := l.Consumer.Stats()

	return LinkResult{
		Name:           l.Name,
		Sent:           l.Producer.Sent(),
		Stalled:        l.Producer.Stalled(),
		Received:       stats.Received,
		OutOfOrder:     stats.OutOfOrder,
		AverageLatency: stats.AverageLatency(),
		MinLatency:     stats.MinLatency,
		MaxLatency:     stats.MaxLatency,
		FinishCycle:    stats.LastReceive,
	}
}

// Start schedules the first ticks of both ends.
func (l *Link) Start() {
	l.Producer.TickNow()
	l.Consumer.TickNow()
}

// LinkBuilder builds links inside a Simulation.
type LinkBuilder struct {
	sim          *Simulation
	latency      timing.VTimeInCycle
	depth        int
	stable       bool
	packets      uint64
	producerFreq timing.FreqInHz
	consumerFreq timing.FreqInHz
}

// MakeLinkBuilder creates a LinkBuilder with a 1-cycle latency, an unbounded
// timed queue and both ends at 1 GHz.
func MakeLinkBuilder() LinkBuilder {
	return LinkBuilder{
		latency:      1,
		depth:        queueing.UnboundedDepth,
		producerFreq: 1 * timing.GHz,
		consumerFreq: 1 * timing.GHz,
	}
}

// WithSimulation sets the simulation the link belongs to.
func (b LinkBuilder) WithSimulation(s *Simulation) LinkBuilder {
	b.sim = s
	return b
}

// WithLatency sets the queue latency in cycles.
func (b LinkBuilder) WithLatency(latency timing.VTimeInCycle) LinkBuilder {
	b.latency = latency
	return b
}

// WithDepth sets the queue depth. Zero keeps the default of the queue kind.
func (b LinkBuilder) WithDepth(depth int) LinkBuilder {
	b.depth = depth
	return b
}

// WithStableQueue connects the ends with a StableTimedQueue instead of a
// TimedQueue.
func (b LinkBuilder) WithStableQueue() LinkBuilder {
	b.stable = true
	return b
}

// WithPackets sets how many packets the producer sends.
func (b LinkBuilder) WithPackets(n uint64) LinkBuilder {
	b.packets = n
	return b
}

// WithProducerFreq sets the frequency the producer ticks at.
func (b LinkBuilder) WithProducerFreq(freq timing.FreqInHz) LinkBuilder {
	b.producerFreq = freq
	return b
}

// WithConsumerFreq sets the frequency the consumer ticks at.
func (b LinkBuilder) WithConsumerFreq(freq timing.FreqInHz) LinkBuilder {
	b.consumerFreq = freq
	return b
}

// Build creates the queue and both ends, and registers them with the
// simulation.
func (b LinkBuilder) Build(name string) *Link {
	if b.sim == nil {
		panic("simulation is not set")
	}

	naming.MustBeValid(name)

	producerDomain := b.sim.MustRegisterFrequency(b.producerFreq)
	consumerDomain := b.sim.MustRegisterFrequency(b.consumerFreq)

	queue, sender, receiver := b.buildQueue(naming.Build(name, "Queue"))
	b.sim.RegisterQueue(queue)

	engine := b.sim.GetEngine()
	producer := NewProducer(naming.Build(name, "Producer"),
		engine, producerDomain, sender, b.packets)
	consumer := NewConsumer(naming.Build(name, "Consumer"),
		engine, consumerDomain, receiver, b.packets)

	if m := b.sim.GetMonitor(); m != nil {
		bar := m.CreateProgressBar(name, b.packets)
		producer.progress = bar
		consumer.progress = bar
	}

	b.sim.RegisterComponent(producer)
	b.sim.RegisterComponent(consumer)

	return &Link{
		Name:     name,
		Queue:    queue,
		Producer: producer,
		Consumer: consumer,
	}
}

func (b LinkBuilder) buildQueue(
	name string,
) (queueing.Queue, PacketSender, PacketReceiver) {
	engine := b.sim.GetEngine()

	if b.stable {
		builder := queueing.MakeStableTimedQueueBuilder[Packet]().
			WithEngine(engine).
			WithLatency(b.latency)
		if b.depth > 0 && b.depth != queueing.UnboundedDepth {
			builder = builder.WithDepth(b.depth)
		}

		q := builder.Build(name)

		return q, q, q
	}

	builder := queueing.MakeTimedQueueBuilder[Packet]().
		WithClock(engine).
		WithLatency(b.latency)
	if b.depth > 0 {
		builder = builder.WithDepth(b.depth)
	}

	q := builder.Build(name)

	return q, q, q
}
