package repo

import (
	"context"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

// TaskRepository определяет интерфейс для работы с задачами одной семьи.
// Реализации: PostgresRepo (реляционная), MongoRepo (документная), MemoryRepo (демо-режим).
type TaskRepository interface {
	FamilyID() string

	CreateTask(ctx context.Context, n model.NewTask) (model.Task, error)
	// GetTask returns nil, nil when the task does not exist in this family.
	GetTask(ctx context.Context, id string) (*model.Task, error)
	GetTasks(ctx context.Context, filter *model.TaskFilter, sort *model.TaskSort) ([]model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	PermanentDeleteTask(ctx context.Context, id string) error
	CompleteTask(ctx context.Context, id string, actualDuration *int) (model.Task, error)
	GetSmartList(ctx context.Context, t smartlist.Type, userID string) ([]model.Task, error)

	// OnTasksChange calls cb with the full matching list once on subscribe and again after
	// every upstream change. ctx only bounds the setup.
	OnTasksChange(ctx context.Context, cb Callback, filter *model.TaskFilter, userID string) (Unsubscribe, error)

	// BatchUpdateTasks applies every item independently and reports one result per item.
	BatchUpdateTasks(ctx context.Context, items []BatchItem) ([]BatchResult, error)
}

// Provider hands out repositories bound to a family.
type Provider interface {
	Name() string
	Ping(ctx context.Context) error
	ForFamily(familyID string) (TaskRepository, error)
}

// Callback receives a full snapshot of the matching tasks.
type Callback func(tasks []model.Task)

// Unsubscribe is idempotent and may be called from inside the callback. No new callback
// starts after it returns; one already running is not waited for.
type Unsubscribe func()

type BatchItem struct {
	ID    string          `json:"id"`
	Patch model.TaskPatch `json:"patch"`
}

type BatchResult struct {
	ID   string      `json:"id"`
	Task *model.Task `json:"task,omitempty"`
	Err  error       `json:"-"`
}
