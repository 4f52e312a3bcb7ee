package repo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

type fetchFunc func(ctx context.Context) ([]model.Task, error)

// watcher refetches the matching tasks after every feed signal and hands them to the callback.
type watcher struct {
	cancel   context.CancelFunc
	release  func()
	mu       sync.Mutex
	closed   bool
	once     sync.Once
	logger   *zap.Logger
	familyID string
}

// subscribe opens a feed subscription and starts delivering snapshots: one right away,
// then one per signal. Fetch failures are logged and skipped; the next signal retries.
func subscribe(ctx context.Context, feed changefeed.Feed, familyID string, timeout time.Duration,
	fetch fetchFunc, cb Callback, logger *zap.Logger) (Unsubscribe, error) {
	signals, release, err := feed.Subscribe(ctx, familyID)
	if err != nil {
		return nil, backendError("subscribe", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{cancel: cancel, release: release, logger: logger, familyID: familyID}

	go func() {
		w.refresh(runCtx, timeout, fetch, cb)
		for {
			select {
			case <-runCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				w.refresh(runCtx, timeout, fetch, cb)
			}
		}
	}()

	return w.unsubscribe, nil
}

func (w *watcher) refresh(ctx context.Context, timeout time.Duration, fetch fetchFunc, cb Callback) {
	if ctx.Err() != nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tasks, err := fetch(fetchCtx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("error in real-time refresh", zap.String("family_id", w.familyID), zap.Error(err))
		}
		return
	}

	// колбэк вызывается без блокировки: из него можно отписаться или подписаться заново
	if w.isClosed() {
		return
	}
	cb(tasks)
}

func (w *watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// unsubscribe does not wait for a callback that is already running; callers that
// must ignore such a late delivery tag their callbacks themselves.
func (w *watcher) unsubscribe() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.cancel()
		w.release()
	})
}

// smartList resolves a smart list through the classifier and runs it against r.
func smartList(ctx context.Context, r TaskRepository, now time.Time, t smartlist.Type, userID string) ([]model.Task, error) {
	l, err := smartlist.Classify(t, now, userID)
	if err != nil {
		return nil, err
	}
	if l.Filter.MatchNone {
		return []model.Task{}, nil
	}
	return r.GetTasks(ctx, &l.Filter, l.Sort)
}
