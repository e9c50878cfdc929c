package fanout

import "errors"

var (
	// ErrInvalidUnit rejects a unit descriptor with no target. Registration of the
	// rest of the batch is unaffected.
	ErrInvalidUnit = errors.New("invalid unit: missing target")

	// ErrInvalidDepth rejects a start request for a negative depth.
	ErrInvalidDepth = errors.New("invalid depth")

	// ErrPoolSaturated reports that a depth's pool queue was full. It becomes the
	// failure cause of the unit that could not be enqueued, never of its siblings.
	ErrPoolSaturated = errors.New("pool saturated")

	// ErrShutdown reports a submission attempted after Shutdown began.
	ErrShutdown = errors.New("shutdown in progress")
)
