package interfaces

import (
	"context"
	"time"
)

// RelayChannel is an out-of-band chat used to ask a human for an SMS code.
// Failures never surface as errors: a failed send is false, a failed wait is no reply.
type RelayChannel interface {
	// Enabled reports whether the channel has credentials
	Enabled() bool

	// Notify sends text to the configured chat and reports whether it was accepted
	Notify(ctx context.Context, text string) bool

	// Await waits up to timeout for the next non-empty reply from the configured chat.
	// Replies older than the run's starting offset are never returned.
	Await(ctx context.Context, timeout time.Duration) (string, bool)
}
