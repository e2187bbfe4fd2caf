package analysis

import (
	"fmt"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sirupsen/logrus"
)

// LogHook writes one log line per queue event.
type LogHook struct {
	logger *logrus.Logger
	level  logrus.Level
}

// NewLogHook creates a LogHook that logs at the given level.
func NewLogHook(logger *logrus.Logger, level logrus.Level) *LogHook {
	return &LogHook{
		logger: logger,
		level:  level,
	}
}

// Func logs the event.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	if !h.logger.IsLevelEnabled(h.level) {
		return
	}

	evt, ok := queueEventFromCtx(ctx)
	if !ok {
		return
	}

	fields := logrus.Fields{
		"queue": evt.Queue,
		"event": evt.Kind,
		"cycle": evt.Cycle,
		"size":  evt.Size,
		"seq":   evt.Seq,
	}

	switch item := ctx.Item.(type) {
	case queueing.Element:
		fields["ready_time"] = evt.ReadyTime
		fields["payload"] = fmt.Sprintf("%v", item.Value())
	case int:
		fields["count"] = item
	}

	h.logger.WithFields(fields).Log(h.level, "queue "+evt.Kind)
}
