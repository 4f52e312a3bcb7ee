package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/worker"
)

// forEachBackend запускает тест на памяти и на Postgres (если доступен Docker или TEST_DATABASE_URL)
func forEachBackend(t *testing.T, opts []Option, fn func(t *testing.T, r TaskRepository)) {
	t.Run("memory", func(t *testing.T) {
		_, r := newMemoryRepo(t, opts...)
		fn(t, r)
	})
	t.Run("postgres", func(t *testing.T) {
		_, r := setupPostgresRepo(t, opts...)
		fn(t, r)
	})
}

func TestConcurrent_UpdatesAreSerialized(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, r TaskRepository) {
		ctx := context.Background()
		task, err := r.CreateTask(ctx, model.NewTask{Title: "Shared"})
		require.NoError(t, err)

		const goroutines = 10
		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				title := fmt.Sprintf("Writer %d", idx)
				_, errs[idx] = r.UpdateTask(ctx, task.ID, model.TaskPatch{Title: &title})
			}(i)
		}
		wg.Wait()

		// версия не проверяется: все записи проходят, побеждает последняя
		for i, err := range errs {
			require.NoError(t, err, "writer %d", i)
		}
		final, err := r.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.Version+goroutines, final.Version)
		assert.Regexp(t, `^Writer \d$`, final.Title)
	})
}

func TestConcurrent_CreateAndList(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, r TaskRepository) {
		ctx := context.Background()
		const creators, perCreator = 5, 5

		var wg sync.WaitGroup
		for i := 0; i < creators; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				for j := 0; j < perCreator; j++ {
					_, err := r.CreateTask(ctx, model.NewTask{Title: fmt.Sprintf("Task %d-%d", idx, j)})
					assert.NoError(t, err)
				}
			}(i)
		}
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.GetTasks(ctx, nil, nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		tasks, err := r.GetTasks(ctx, nil, nil)
		require.NoError(t, err)
		assert.Len(t, tasks, creators*perCreator)
	})
}

func TestConcurrent_BatchOnWorkerPool(t *testing.T) {
	pool := worker.NewPool(zap.NewNop(), 4)
	pool.Start(context.Background())
	defer pool.Stop()

	forEachBackend(t, []Option{WithWorkers(pool)}, func(t *testing.T, r TaskRepository) {
		ctx := context.Background()
		items := make([]BatchItem, 0, 20)
		status := model.StatusInProgress
		for i := 0; i < 20; i++ {
			task, err := r.CreateTask(ctx, model.NewTask{Title: fmt.Sprintf("Task %d", i)})
			require.NoError(t, err)
			items = append(items, BatchItem{ID: task.ID, Patch: model.TaskPatch{Status: &status}})
		}

		results, err := r.BatchUpdateTasks(ctx, items)
		require.NoError(t, err)
		require.Len(t, results, len(items))
		for i, res := range results {
			assert.Equal(t, items[i].ID, res.ID, "results keep input order")
			require.NotNil(t, res.Task)
			assert.Equal(t, model.StatusInProgress, res.Task.Status)
		}

		inProgress, err := r.GetTasks(ctx, &model.TaskFilter{Status: []model.Status{status}}, nil)
		require.NoError(t, err)
		assert.Len(t, inProgress, 20)
	})
}
