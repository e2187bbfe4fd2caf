package analysis

import (
	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/idgen"
	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/queueing"
)

// QueueEventTable is the table that QueueTracer writes into.
const QueueEventTable = "queue_events"

// Event kinds recorded by QueueTracer and LogHook.
const (
	EventWrite  = "write"
	EventRead   = "read"
	EventCommit = "commit"
)

// QueueEvent is one row of the queue event trace. Seq orders the events of
// one queue as they took effect; ID orders them as they were recorded.
type QueueEvent struct {
	ID        uint64
	Seq       uint64
	Queue     string
	Kind      string
	Cycle     uint64
	ReadyTime uint64
	Size      int
	Count     int
}

func eventKind(pos *hooking.HookPos) string {
	switch pos {
	case queueing.HookPosQueueWrite:
		return EventWrite
	case queueing.HookPosQueueRead:
		return EventRead
	case queueing.HookPosQueueCommit:
		return EventCommit
	default:
		return ""
	}
}

// queueEventFromCtx converts a queue hook context. It reports false for hook
// positions that are not queue events.
func queueEventFromCtx(ctx hooking.HookCtx) (QueueEvent, bool) {
	kind := eventKind(ctx.Pos)
	if kind == "" {
		return QueueEvent{}, false
	}

	evt := QueueEvent{Kind: kind}

	if named, ok := ctx.Domain.(naming.Named); ok {
		evt.Queue = named.Name()
	}

	if detail, ok := ctx.Detail.(queueing.HookDetail); ok {
		evt.Cycle = uint64(detail.Now)
		evt.Size = detail.Size
		evt.Seq = detail.Seq
	}

	switch item := ctx.Item.(type) {
	case queueing.Element:
		evt.ReadyTime = uint64(item.ReadyAt())
		evt.Count = 1
	case int:
		evt.Count = item
	}

	return evt, true
}

// QueueTracer is a hook that records every queue write, read and commit.
type QueueTracer struct {
	recorder datarecording.DataRecorder
	ids      idgen.Generator
}

// NewQueueTracer creates the event table in the recorder.
func NewQueueTracer(
	recorder datarecording.DataRecorder,
	ids idgen.Generator,
) *QueueTracer {
	recorder.CreateTable(QueueEventTable, QueueEvent{})

	return &QueueTracer{
		recorder: recorder,
		ids:      ids,
	}
}

// Func records the event.
func (t *QueueTracer) Func(ctx hooking.HookCtx) {
	evt, ok := queueEventFromCtx(ctx)
	if !ok {
		return
	}

	evt.ID = uint64(t.ids.Generate())

	t.recorder.InsertData(QueueEventTable, evt)
}
