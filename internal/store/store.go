// Package store keeps the client-side view of one family's tasks: the loaded list, the
// derived filtered list, selection, and the live subscription. Writes are applied locally
// first and rolled back from a snapshot when the backend rejects them.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

var ErrNoRepository = errors.New("repository is not initialized")

const DefaultCallTimeout = 10 * time.Second

// State is a read-only copy of the store for UI consumers.
type State struct {
	FamilyID      string
	Tasks         []model.Task
	FilteredTasks []model.Task
	Filter        *model.TaskFilter
	Sort          *model.TaskSort
	Loading       bool
	Err           error
	Selected      []string
	Syncing       bool
}

type Option func(*Store)

// WithCallTimeout bounds every backend call made by the store.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithClock sets the clock used for optimistic timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

type Store struct {
	provider    repo.Provider
	logger      *zap.Logger
	callTimeout time.Duration
	clock       func() time.Time

	mu       sync.Mutex
	familyID string
	repo     repo.TaskRepository

	tasks    []model.Task
	filtered []model.Task
	filter   *model.TaskFilter
	sort     *model.TaskSort
	inflight int
	err      error
	selected map[string]struct{}

	unsubscribe repo.Unsubscribe
	// generation растёт при каждом старте/остановке синхронизации; колбэки старых подписок отбрасываются
	generation uint64
	// epoch растёт при полной замене списка (загрузка, push, сброс)
	epoch uint64
	// revision растёт при любом изменении tasks
	revision uint64
	// session меняется при смене семьи и сбросе; ответы старой сессии отбрасываются
	session uint64

	listeners    map[int]func(State)
	nextListener int
}

func New(provider repo.Provider, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		provider:    provider,
		logger:      logger,
		callTimeout: DefaultCallTimeout,
		clock:       time.Now,
		selected:    make(map[string]struct{}),
		listeners:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a listener called after every state change, outside the store lock.
func (s *Store) OnChange(listener func(State)) (remove func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// update runs fn under the lock, then notifies listeners with the resulting state.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	state := s.snapshotLocked()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	selected := make([]string, 0, len(s.selected))
	for id := range s.selected {
		selected = append(selected, id)
	}
	slices.Sort(selected)
	return State{
		FamilyID:      s.familyID,
		Tasks:         model.CloneTasks(s.tasks),
		FilteredTasks: model.CloneTasks(s.filtered),
		Filter:        s.filter.Clone(),
		Sort:          cloneSort(s.sort),
		Loading:       s.inflight > 0,
		Err:           s.err,
		Selected:      selected,
		Syncing:       s.unsubscribe != nil,
	}
}

func cloneSort(s *model.TaskSort) *model.TaskSort {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Store) Tasks() []model.Task         { return s.Snapshot().Tasks }
func (s *Store) FilteredTasks() []model.Task { return s.Snapshot().FilteredTasks }
func (s *Store) Err() error                  { return s.Snapshot().Err }
func (s *Store) Loading() bool               { return s.Snapshot().Loading }

// InitializeRepository binds the store to a family. Repeating it for the bound family is a
// no-op; switching families drops the subscription and the previous family's data.
func (s *Store) InitializeRepository(familyID string) error {
	s.mu.Lock()
	if s.repo != nil && s.familyID == familyID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	r, err := s.provider.ForFamily(familyID)
	if err != nil {
		s.update(func() { s.err = err })
		return err
	}

	var stop repo.Unsubscribe
	s.update(func() {
		stop = s.detachLocked()
		s.clearDataLocked()
		s.familyID = familyID
		s.repo = r
	})
	if stop != nil {
		stop()
	}
	s.logger.Debug("store bound to family", zap.String("family_id", familyID), zap.String("backend", s.provider.Name()))
	return nil
}

// detachLocked forgets the active subscription; the caller invokes the returned handle
// after releasing the lock.
func (s *Store) detachLocked() repo.Unsubscribe {
	stop := s.unsubscribe
	s.unsubscribe = nil
	s.generation++
	return stop
}

func (s *Store) clearDataLocked() {
	s.tasks = nil
	s.filtered = nil
	s.filter = nil
	s.sort = nil
	s.err = nil
	s.selected = make(map[string]struct{})
	s.inflight = 0
	s.epoch++
	s.revision++
	s.session++
}

// begin returns the bound repository and marks a call in flight.
func (s *Store) begin() (repo.TaskRepository, uint64, error) {
	var (
		r       repo.TaskRepository
		session uint64
	)
	s.update(func() {
		if s.repo == nil {
			s.err = ErrNoRepository
			return
		}
		r, session = s.repo, s.session
		s.inflight++
	})
	if r == nil {
		return nil, 0, ErrNoRepository
	}
	return r, session, nil
}

// finishLocked closes a call opened by begin and reports whether its result still applies.
func (s *Store) finishLocked(session uint64) bool {
	if session != s.session {
		return false
	}
	if s.inflight > 0 {
		s.inflight--
	}
	return true
}

func (s *Store) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

func (s *Store) recomputeLocked() {
	s.filtered = model.ApplyFilterAndSort(s.tasks, s.filter, s.sort)
}

func (s *Store) replaceLocked(tasks []model.Task) {
	s.tasks = model.CloneTasks(tasks)
	if s.tasks == nil {
		s.tasks = []model.Task{}
	}
	s.epoch++
	s.revision++
	s.recomputeLocked()
}

func (s *Store) LoadTasks(ctx context.Context, filter *model.TaskFilter, sort *model.TaskSort) error {
	r, session, err := s.begin()
	if err != nil {
		return err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	tasks, err := r.GetTasks(cctx, filter, sort)
	s.update(func() {
		if !s.finishLocked(session) {
			return
		}
		if err != nil {
			s.err = err
			return
		}
		s.filter = filter.Clone()
		s.sort = cloneSort(sort)
		s.replaceLocked(tasks)
	})
	if err != nil {
		s.logger.Warn("failed to load tasks", zap.String("family_id", r.FamilyID()), zap.Error(err))
	}
	return err
}

// LoadSmartList replaces the list with a smart list; the local filter and sort are cleared so
// the backend order is kept.
func (s *Store) LoadSmartList(ctx context.Context, t smartlist.Type, userID string) error {
	r, session, err := s.begin()
	if err != nil {
		return err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	tasks, err := r.GetSmartList(cctx, t, userID)
	s.update(func() {
		if !s.finishLocked(session) {
			return
		}
		if err != nil {
			s.err = err
			return
		}
		s.filter = nil
		s.sort = nil
		s.replaceLocked(tasks)
	})
	if err != nil {
		s.logger.Warn("failed to load smart list", zap.String("list", string(t)), zap.Error(err))
	}
	return err
}

// CreateTask adds the persisted task to the front of the list. Nothing is inserted before
// the backend has assigned an id.
func (s *Store) CreateTask(ctx context.Context, n model.NewTask) (model.Task, error) {
	r, session, err := s.begin()
	if err != nil {
		return model.Task{}, err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	created, err := r.CreateTask(cctx, n)
	s.update(func() {
		if !s.finishLocked(session) {
			return
		}
		if err != nil {
			s.err = err
			return
		}
		// push мог доставить задачу раньше ответа
		if i := s.indexLocked(created.ID); i >= 0 {
			s.tasks[i] = created.Clone()
		} else {
			s.tasks = append([]model.Task{created.Clone()}, s.tasks...)
		}
		s.revision++
		s.recomputeLocked()
	})
	return created, err
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// rollback remembers what an optimistic mutation replaced.
type rollback struct {
	session  uint64
	snapshot []model.Task
	epoch    uint64
	revision uint64
	id       string
	index    int
	previous *model.Task
}

// mutateLocked applies an optimistic change to one task and records how to undo it.
// apply returns false to drop the task from the list.
func (s *Store) mutateLocked(session uint64, id string, apply func(t *model.Task) bool) rollback {
	rb := rollback{session: session, snapshot: model.CloneTasks(s.tasks), epoch: s.epoch, id: id, index: -1}
	if i := s.indexLocked(id); i >= 0 {
		prev := s.tasks[i].Clone()
		rb.index, rb.previous = i, &prev
		if !apply(&s.tasks[i]) {
			s.tasks = slices.Delete(s.tasks, i, i+1)
		}
	}
	s.revision++
	rb.revision = s.revision
	s.recomputeLocked()
	return rb
}

// undoLocked restores the state an optimistic mutation replaced. A wholesale replacement
// since then is authoritative and is kept; after later local mutations only this task is
// put back.
func (s *Store) undoLocked(rb rollback) {
	switch {
	case s.epoch != rb.epoch:
		return
	case s.revision == rb.revision:
		s.tasks = rb.snapshot
	case rb.previous != nil:
		if i := s.indexLocked(rb.id); i >= 0 {
			s.tasks[i] = *rb.previous
		} else {
			s.tasks = slices.Insert(s.tasks, min(rb.index, len(s.tasks)), *rb.previous)
		}
	default:
		return
	}
	s.revision++
	s.recomputeLocked()
}

// settleLocked records the outcome of an optimistic write: the server copy replaces the
// local guess unless newer data has arrived, a failure restores the snapshot.
func (s *Store) settleLocked(rb rollback, saved *model.Task, err error) {
	if !s.finishLocked(rb.session) {
		return
	}
	if err != nil {
		s.err = err
		s.undoLocked(rb)
		return
	}
	if saved == nil || s.epoch != rb.epoch {
		return
	}
	if i := s.indexLocked(saved.ID); i >= 0 {
		s.tasks[i] = saved.Clone()
		s.revision++
		s.recomputeLocked()
	}
}

// optimistic applies local to the task, runs remote, and settles the result.
func (s *Store) optimistic(ctx context.Context, op, id string, local func(t *model.Task) bool,
	remote func(ctx context.Context, r repo.TaskRepository) (*model.Task, error)) error {
	r, session, err := s.begin()
	if err != nil {
		return err
	}

	var rb rollback
	s.update(func() { rb = s.mutateLocked(session, id, local) })

	cctx, cancel := s.call(ctx)
	defer cancel()
	saved, err := remote(cctx, r)

	s.update(func() { s.settleLocked(rb, saved, err) })
	if err != nil {
		s.logger.Warn("optimistic change rolled back",
			zap.String("op", op), zap.String("task_id", id), zap.Error(err))
	}
	return err
}

// UpdateTask applies the patch locally, then sends it to the backend.
func (s *Store) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) error {
	err := patch.Validate()
	if err == nil {
		s.mu.Lock()
		if i := s.indexLocked(id); i >= 0 {
			err = patch.ValidateFor(s.tasks[i])
		}
		s.mu.Unlock()
	}
	if err != nil {
		s.update(func() { s.err = err })
		return err
	}
	now := s.clock().UTC()
	return s.optimistic(ctx, "update", id,
		func(t *model.Task) bool {
			patch.ApplyTo(t, now)
			return true
		},
		func(ctx context.Context, r repo.TaskRepository) (*model.Task, error) {
			saved, err := r.UpdateTask(ctx, id, patch)
			return &saved, err
		})
}

// CompleteTask marks the task completed locally, then on the backend.
func (s *Store) CompleteTask(ctx context.Context, id string, actualDuration *int) error {
	if actualDuration != nil && *actualDuration <= 0 {
		err := fmt.Errorf("%w: actual_duration must be positive", repo.ErrValidation)
		s.update(func() { s.err = err })
		return err
	}

	now := s.clock().UTC()
	status := model.StatusCompleted
	patch := model.TaskPatch{Status: &status, CompletedAt: model.Some(now)}
	if actualDuration != nil {
		patch.ActualDuration = model.Some(*actualDuration)
	}
	return s.optimistic(ctx, "complete", id,
		func(t *model.Task) bool {
			patch.ApplyTo(t, now)
			return true
		},
		func(ctx context.Context, r repo.TaskRepository) (*model.Task, error) {
			saved, err := r.CompleteTask(ctx, id, actualDuration)
			return &saved, err
		})
}

// DeleteTask removes the task locally and soft-deletes it on the backend.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.optimistic(ctx, "delete", id,
		func(*model.Task) bool { return false },
		func(ctx context.Context, r repo.TaskRepository) (*model.Task, error) {
			return nil, r.DeleteTask(ctx, id)
		})
}

// StartRealTimeSync replaces any running subscription with a new one. Every push replaces
// the task list wholesale.
func (s *Store) StartRealTimeSync(ctx context.Context, filter *model.TaskFilter, userID string) error {
	var (
		r    repo.TaskRepository
		stop repo.Unsubscribe
		gen  uint64
	)
	s.update(func() {
		if s.repo == nil {
			s.err = ErrNoRepository
			return
		}
		r = s.repo
		stop = s.detachLocked()
		gen = s.generation
	})
	if r == nil {
		return ErrNoRepository
	}
	if stop != nil {
		stop()
	}

	cctx, cancel := s.call(ctx)
	defer cancel()

	unsubscribe, err := r.OnTasksChange(cctx, func(tasks []model.Task) {
		s.push(gen, tasks)
	}, filter, userID)
	if err != nil {
		s.update(func() {
			if s.generation == gen {
				s.err = err
			}
		})
		s.logger.Warn("failed to start real-time sync", zap.String("family_id", r.FamilyID()), zap.Error(err))
		return err
	}

	stale := false
	s.update(func() {
		// пока открывалась подписка, могли вызвать Stop или новый Start
		if s.generation != gen {
			stale = true
			return
		}
		s.unsubscribe = unsubscribe
	})
	if stale {
		unsubscribe()
	}
	return nil
}

func (s *Store) push(gen uint64, tasks []model.Task) {
	s.mu.Lock()
	current := s.generation == gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.update(func() {
		if s.generation == gen {
			s.replaceLocked(tasks)
		}
	})
}

// StopRealTimeSync closes the active subscription, if any. No push is applied after it returns.
func (s *Store) StopRealTimeSync() {
	var stop repo.Unsubscribe
	s.update(func() { stop = s.detachLocked() })
	if stop != nil {
		stop()
	}
}

func (s *Store) SetFilter(filter *model.TaskFilter) {
	s.update(func() {
		s.filter = filter.Clone()
		s.recomputeLocked()
	})
}

func (s *Store) SetSort(sort *model.TaskSort) {
	s.update(func() {
		s.sort = cloneSort(sort)
		s.recomputeLocked()
	})
}

// ApplyFilterAndSort recomputes the derived list from the current tasks, filter and sort.
func (s *Store) ApplyFilterAndSort() {
	s.update(s.recomputeLocked)
}

func (s *Store) SelectTask(id string) {
	s.update(func() { s.selected[id] = struct{}{} })
}

func (s *Store) DeselectTask(id string) {
	s.update(func() { delete(s.selected, id) })
}

// SelectAllTasks selects every task in the filtered list.
func (s *Store) SelectAllTasks() {
	s.update(func() {
		for _, t := range s.filtered {
			s.selected[t.ID] = struct{}{}
		}
	})
}

func (s *Store) ClearSelection() {
	s.update(func() { s.selected = make(map[string]struct{}) })
}

// BatchUpdate sends all items to the backend, then reloads with the current filter and sort
// whatever the outcome.
func (s *Store) BatchUpdate(ctx context.Context, items []repo.BatchItem) ([]repo.BatchResult, error) {
	r, session, err := s.begin()
	if err != nil {
		return nil, err
	}

	cctx, cancel := s.call(ctx)
	results, batchErr := r.BatchUpdateTasks(cctx, items)
	cancel()

	var (
		filter *model.TaskFilter
		sort   *model.TaskSort
		live   bool
	)
	s.update(func() {
		if live = s.finishLocked(session); !live {
			return
		}
		if batchErr != nil {
			s.err = batchErr
		}
		filter, sort = s.filter.Clone(), cloneSort(s.sort)
	})
	if batchErr != nil {
		s.logger.Warn("batch update partially failed", zap.Int("items", len(items)), zap.Error(batchErr))
	}
	if !live {
		return results, batchErr
	}

	reloadErr := s.LoadTasks(ctx, filter, sort)
	return results, multierr.Append(batchErr, reloadErr)
}

func (s *Store) ClearError() {
	s.update(func() { s.err = nil })
}

// Reset closes the subscription, unbinds the repository and returns to the initial state.
func (s *Store) Reset() {
	var stop repo.Unsubscribe
	s.update(func() {
		stop = s.detachLocked()
		s.clearDataLocked()
		s.repo = nil
		s.familyID = ""
	})
	if stop != nil {
		stop()
	}
}
