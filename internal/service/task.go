package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
	MaxBatchSize     = 100
)

// Stats - сводка по задачам семьи
type Stats struct {
	TotalTasks        int            `json:"total_tasks"`
	ByStatus          map[string]int `json:"by_status"`
	ByPriority        map[string]int `json:"by_priority"`
	Overdue           int            `json:"overdue"`
	AvgActualDuration float64        `json:"avg_actual_duration"`
}

// SmartListInfo описывает один пункт каталога умных списков
type SmartListInfo struct {
	Type smartlist.Type `json:"type"`
	Name string         `json:"name"`
}

type TaskService struct {
	provider repo.Provider
	logger   *zap.Logger
	clock    func() time.Time
}

func NewTaskService(provider repo.Provider, logger *zap.Logger) *TaskService {
	return &TaskService{provider: provider, logger: logger, clock: time.Now}
}

func (s *TaskService) forFamily(familyID string) (repo.TaskRepository, error) {
	return s.provider.ForFamily(familyID)
}

func (s *TaskService) Create(ctx context.Context, familyID string, n model.NewTask) (model.Task, error) {
	if err := n.Validate(); err != nil { // Валидация до обращения к хранилищу
		return model.Task{}, err
	}
	r, err := s.forFamily(familyID)
	if err != nil {
		return model.Task{}, err
	}
	return r.CreateTask(ctx, n)
}

func (s *TaskService) Get(ctx context.Context, familyID, id string) (model.Task, error) {
	r, err := s.forFamily(familyID)
	if err != nil {
		return model.Task{}, err
	}
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if t == nil {
		return model.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrorNotFound)
	}
	return *t, nil
}

// List возвращает задачи по фильтру; limit <= 0 означает DefaultListLimit, больше MaxListLimit обрезается.
func (s *TaskService) List(ctx context.Context, familyID string, filter *model.TaskFilter, sort *model.TaskSort, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	r, err := s.forFamily(familyID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.GetTasks(ctx, filter, sort)
	if err != nil {
		return nil, err
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *TaskService) Update(ctx context.Context, familyID, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}
	r, err := s.forFamily(familyID)
	if err != nil {
		return model.Task{}, err
	}
	return r.UpdateTask(ctx, id, patch)
}

func (s *TaskService) Complete(ctx context.Context, familyID, id string, actualDuration *int) (model.Task, error) {
	if actualDuration != nil && *actualDuration <= 0 {
		return model.Task{}, fmt.Errorf("%w: actual_duration must be positive", repo.ErrValidation)
	}
	r, err := s.forFamily(familyID)
	if err != nil {
		return model.Task{}, err
	}
	return r.CompleteTask(ctx, id, actualDuration)
}

// Delete - мягкое удаление (статус cancelled)
func (s *TaskService) Delete(ctx context.Context, familyID, id string) error {
	r, err := s.forFamily(familyID)
	if err != nil {
		return err
	}
	return r.DeleteTask(ctx, id)
}

func (s *TaskService) PermanentDelete(ctx context.Context, familyID, id string) error {
	r, err := s.forFamily(familyID)
	if err != nil {
		return err
	}
	return r.PermanentDeleteTask(ctx, id)
}

func (s *TaskService) BatchUpdate(ctx context.Context, familyID string, items []repo.BatchItem) ([]repo.BatchResult, error) {
	if len(items) == 0 || len(items) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch must contain 1..%d items", repo.ErrValidation, MaxBatchSize)
	}
	r, err := s.forFamily(familyID)
	if err != nil {
		return nil, err
	}
	results, err := r.BatchUpdateTasks(ctx, items)
	if err != nil {
		// частичный отказ не прерывает запрос: ошибки лежат в results
		s.logger.Warn("batch update partially failed",
			zap.String("family_id", familyID), zap.Int("items", len(items)), zap.Error(err))
	}
	return results, nil
}

func (s *TaskService) SmartLists() []SmartListInfo {
	out := make([]SmartListInfo, 0, len(smartlist.Types()))
	for _, t := range smartlist.Types() {
		out = append(out, SmartListInfo{Type: t, Name: t.Name()})
	}
	return out
}

func (s *TaskService) SmartList(ctx context.Context, familyID string, t smartlist.Type, userID string) ([]model.Task, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown smart list %q", repo.ErrValidation, t)
	}
	r, err := s.forFamily(familyID)
	if err != nil {
		return nil, err
	}
	return r.GetSmartList(ctx, t, userID)
}

func (s *TaskService) GetStats(ctx context.Context, familyID string) (Stats, error) {
	r, err := s.forFamily(familyID)
	if err != nil {
		return Stats{}, err
	}
	tasks, err := r.GetTasks(ctx, nil, nil)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(tasks, s.clock()), nil
}

func computeStats(tasks []model.Task, now time.Time) Stats {
	stats := Stats{
		TotalTasks: len(tasks),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	today := model.DateOf(now)

	var durationSum, durationCount int
	for _, t := range tasks {
		stats.ByStatus[string(t.Status)]++
		stats.ByPriority[string(t.Priority)]++
		if t.Status.Active() && t.DueDate != nil && t.DueDate.Before(today) {
			stats.Overdue++
		}
		if t.Status == model.StatusCompleted && t.ActualDuration != nil {
			durationSum += *t.ActualDuration
			durationCount++
		}
	}
	if durationCount > 0 {
		stats.AvgActualDuration = float64(durationSum) / float64(durationCount)
	}
	return stats
}
