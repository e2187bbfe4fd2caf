package queueing

import "errors"

var (
	// ErrEmptyQueue is reported when reading or peeking a queue that holds no
	// element.
	ErrEmptyQueue = errors.New("queueing: queue is empty")

	// ErrNotReady is reported when the front element exists but its ready time
	// has not been reached.
	ErrNotReady = errors.New("queueing: front element is not ready")

	// ErrCapacityExceeded is reported when writing to a queue that already
	// holds depth elements. Queues never drop or block; the producer must
	// respect backpressure.
	ErrCapacityExceeded = errors.New("queueing: queue capacity exceeded")

	// ErrInvalidConfiguration is reported for a non-positive depth, a missing
	// clock or an invalid name.
	ErrInvalidConfiguration = errors.New("queueing: invalid configuration")

	// ErrPhaseViolation is reported when a stable queue is used outside the
	// cycle phase that the operation requires.
	ErrPhaseViolation = errors.New("queueing: operation not allowed in current phase")
)
