package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

// MemoryProvider хранит задачи всех семей в памяти процесса (демо-режим, тесты).
type MemoryProvider struct {
	mu     sync.RWMutex
	tasks  map[string][]model.Task
	opts   Options
	logger *zap.Logger
}

func NewMemoryProvider(logger *zap.Logger, opts ...Option) *MemoryProvider {
	o := buildOptions(opts)
	if o.Feed == nil {
		o.Feed = changefeed.NewMemory()
	}
	return &MemoryProvider{
		tasks:  make(map[string][]model.Task),
		opts:   o,
		logger: logger,
	}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) Ping(context.Context) error { return nil }

func (p *MemoryProvider) ForFamily(familyID string) (TaskRepository, error) {
	if err := checkFamily(familyID); err != nil {
		return nil, err
	}
	return &MemoryRepo{familyID: familyID, p: p}, nil
}

// Seed stores tasks as they are, bypassing validation. Used for demo data and tests.
func (p *MemoryProvider) Seed(tasks ...model.Task) {
	p.mu.Lock()
	families := map[string]struct{}{}
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		p.tasks[t.FamilyID] = append(p.tasks[t.FamilyID], t.Clone())
		families[t.FamilyID] = struct{}{}
	}
	p.mu.Unlock()

	for familyID := range families {
		p.publish(familyID)
	}
}

func (p *MemoryProvider) publish(familyID string) {
	if err := p.opts.Feed.Publish(context.Background(), familyID); err != nil {
		p.logger.Warn("failed to publish change", zap.String("family_id", familyID), zap.Error(err))
	}
}

type MemoryRepo struct {
	familyID string
	p        *MemoryProvider
}

func (r *MemoryRepo) FamilyID() string { return r.familyID }

func (r *MemoryRepo) CreateTask(ctx context.Context, n model.NewTask) (model.Task, error) {
	if err := n.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Task{}, backendError("create task", err)
	}

	t := model.FromNew(n, uuid.NewString(), r.familyID, r.p.opts.now())

	r.p.mu.Lock()
	r.p.tasks[r.familyID] = append(r.p.tasks[r.familyID], t)
	r.p.mu.Unlock()

	r.p.publish(r.familyID)
	return t.Clone(), nil
}

func (r *MemoryRepo) GetTask(ctx context.Context, id string) (*model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, backendError("get task", err)
	}
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, t := range r.p.tasks[r.familyID] {
		if t.ID == id {
			c := t.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) GetTasks(ctx context.Context, filter *model.TaskFilter, sort *model.TaskSort) ([]model.Task, error) {
	if sort != nil {
		if err := sort.Validate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, backendError("get tasks", err)
	}

	r.p.mu.RLock()
	out := model.CloneTasks(model.FilterTasks(r.p.tasks[r.familyID], filter))
	r.p.mu.RUnlock()

	model.SortTasks(out, sort)
	return out, nil
}

func (r *MemoryRepo) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Task{}, backendError("update task", err)
	}

	r.p.mu.Lock()
	tasks := r.p.tasks[r.familyID]
	idx := -1
	for i := range tasks {
		if tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.p.mu.Unlock()
		return model.Task{}, notFound(id)
	}
	if err := patch.ValidateFor(tasks[idx]); err != nil {
		r.p.mu.Unlock()
		return model.Task{}, err
	}
	patch.ApplyTo(&tasks[idx], r.p.opts.now())
	updated := tasks[idx].Clone()
	r.p.mu.Unlock()

	r.p.publish(r.familyID)
	return updated, nil
}

func (r *MemoryRepo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.UpdateTask(ctx, id, cancelPatch())
	return err
}

func (r *MemoryRepo) PermanentDeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return backendError("delete task", err)
	}

	r.p.mu.Lock()
	tasks := r.p.tasks[r.familyID]
	kept := tasks[:0]
	removed := false
	for _, t := range tasks {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	r.p.tasks[r.familyID] = kept
	r.p.mu.Unlock()

	if !removed {
		return notFound(id)
	}
	r.p.publish(r.familyID)
	return nil
}

func (r *MemoryRepo) CompleteTask(ctx context.Context, id string, actualDuration *int) (model.Task, error) {
	return r.UpdateTask(ctx, id, completePatch(actualDuration, r.p.opts.now()))
}

func (r *MemoryRepo) GetSmartList(ctx context.Context, t smartlist.Type, userID string) ([]model.Task, error) {
	return smartList(ctx, r, r.p.opts.Clock(), t, userID)
}

func (r *MemoryRepo) OnTasksChange(ctx context.Context, cb Callback, filter *model.TaskFilter, userID string) (Unsubscribe, error) {
	f := filter.WithAssignee(userID)
	fetch := func(ctx context.Context) ([]model.Task, error) {
		return r.GetTasks(ctx, f, nil)
	}
	return subscribe(ctx, r.p.opts.Feed, r.familyID, r.p.opts.RefreshTimeout, fetch, cb, r.p.logger)
}

func (r *MemoryRepo) BatchUpdateTasks(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	return runBatch(ctx, r.p.opts.Workers, items, r.UpdateTask)
}
