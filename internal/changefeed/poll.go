package changefeed

import (
	"context"
	"sync"
	"time"
)

// Poll emits a signal on every tick. It is the periodic re-fetch fallback for backends
// without a notification channel; Publish is a no-op.
type Poll struct {
	Interval time.Duration
}

func (p Poll) Publish(context.Context, string) error { return nil }

func (p Poll) Subscribe(_ context.Context, _ string) (<-chan struct{}, func(), error) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	out := make(chan struct{}, 1)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				notify(out)
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(func() { close(stop) }) }, nil
}
