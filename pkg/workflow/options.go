package workflow

import "time"

// Options tunes engine execution. Zero values fall back to DefaultOptions
// semantics only where documented; construct from DefaultOptions and adjust.
type Options struct {
	// Checkpoint enables capturing a context snapshot after each completed level.
	Checkpoint bool

	// MaxCheckpoints bounds the checkpoint list per instance, keeping the
	// newest entries. Zero keeps every checkpoint.
	MaxCheckpoints int

	// RetryDelay is the base delay for linear backoff between task attempts,
	// used when a task does not set retry_delay_ms.
	RetryDelay time.Duration

	// MaxDuration caps wall-clock execution per instance. Zero disables the cap.
	MaxDuration time.Duration

	// SweepInterval is how often terminal instances are scanned for eviction.
	// Zero disables the sweeper.
	SweepInterval time.Duration

	// Retention is how long a terminal instance stays queryable after it
	// finishes before the sweeper evicts it.
	Retention time.Duration
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() Options {
	return Options{
		Checkpoint:     true,
		MaxCheckpoints: 32,
		RetryDelay:     500 * time.Millisecond,
		MaxDuration:    0,
		SweepInterval:  time.Minute,
		Retention:      time.Hour,
	}
}
