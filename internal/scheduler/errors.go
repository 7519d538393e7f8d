package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrAlreadyRunning is returned when Run is called on a scheduler that has
	// already run. A scheduler owns its gateway and store for exactly one run.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("scheduler: invalid config")

	// ErrRetriesExhausted is returned internally when every write attempt hit contention.
	ErrRetriesExhausted = errors.New("scheduler: store busy after retries")
)

// Warning texts surfaced to sinks.
const (
	warnStoreBusy = "store busy after retries; cycle skipped"
)
