package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/worker"
)

// Options are shared by every backend adapter.
type Options struct {
	Clock          func() time.Time
	Workers        *worker.Pool
	Feed           changefeed.Feed
	RefreshTimeout time.Duration
}

type Option func(*Options)

func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// WithWorkers sets the pool used by BatchUpdateTasks. Without one, batches run sequentially.
func WithWorkers(p *worker.Pool) Option {
	return func(o *Options) { o.Workers = p }
}

// WithFeed overrides the change feed used by OnTasksChange.
func WithFeed(f changefeed.Feed) Option {
	return func(o *Options) { o.Feed = f }
}

// WithRefreshTimeout bounds each refetch triggered by a change signal.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *Options) { o.RefreshTimeout = d }
}

func buildOptions(opts []Option) Options {
	o := Options{
		Clock:          time.Now,
		RefreshTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) now() time.Time {
	return o.Clock().UTC()
}

func checkFamily(familyID string) error {
	if strings.TrimSpace(familyID) == "" {
		return fmt.Errorf("%w: family id is required", ErrValidation)
	}
	return nil
}

type updateFunc func(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)

// runBatch applies items independently on the worker pool; results keep input order.
func runBatch(ctx context.Context, pool *worker.Pool, items []BatchItem, update updateFunc) ([]BatchResult, error) {
	results := make([]BatchResult, len(items))
	jobs := make([]worker.Job, len(items))
	for i, item := range items {
		results[i].ID = item.ID
		jobs[i] = func(ctx context.Context) {
			// паника одного элемента становится его ошибкой, а не тихим успехом
			defer func() {
				if r := recover(); r != nil {
					results[i] = BatchResult{ID: item.ID, Err: fmt.Errorf("%w: update panicked: %v", ErrorBackend, r)}
				}
			}()
			t, err := update(ctx, item.ID, item.Patch)
			results[i] = BatchResult{ID: item.ID, Err: err}
			if err == nil {
				results[i].Task = &t
			}
		}
	}
	pool.Do(ctx, jobs)
	return results, BatchError(results)
}

func completePatch(actualDuration *int, now time.Time) model.TaskPatch {
	status := model.StatusCompleted
	p := model.TaskPatch{Status: &status, CompletedAt: model.Some(now)}
	if actualDuration != nil {
		p.ActualDuration = model.Some(*actualDuration)
	}
	return p
}

func cancelPatch() model.TaskPatch {
	status := model.StatusCancelled
	return model.TaskPatch{Status: &status}
}
