// Package changefeed delivers "tasks of family X changed" signals to subscribers.
//
// A signal carries no payload: subscribers re-read the tasks they care about. Signals are
// coalesced, so a burst of writes may arrive as a single signal.
package changefeed

import "context"

type Feed interface {
	// Publish announces that tasks of familyID changed.
	Publish(ctx context.Context, familyID string) error
	// Subscribe returns a signal channel and a close function. The channel is closed
	// after close is called or when the feed fails; close is idempotent.
	Subscribe(ctx context.Context, familyID string) (<-chan struct{}, func(), error)
}

// notify performs a non-blocking send on a channel buffered with capacity 1.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
