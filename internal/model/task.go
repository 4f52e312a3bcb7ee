package model

import (
	"errors"
	"time"
)

// ErrValidation помечает некорректные входные данные (пустой заголовок, неизвестный приоритет и т.п.)
var ErrValidation = errors.New("validation error")

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank is used for ordering: urgent is the highest.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

func (p Priority) Valid() bool { return p.Rank() >= 0 }

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Order follows the lifecycle: pending < in_progress < completed < cancelled.
func (s Status) Order() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	case StatusCancelled:
		return 3
	}
	return -1
}

func (s Status) Valid() bool { return s.Order() >= 0 }

// Active reports whether the task still needs work.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Task - задача семьи. DueDate хранится как календарная дата (полночь UTC).
type Task struct {
	ID       string `json:"id" bson:"_id"`
	FamilyID string `json:"family_id" bson:"family_id"`

	Title       string `json:"title" bson:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	AssignedTo []string `json:"assigned_to" bson:"assigned_to"`
	CreatedBy  string   `json:"created_by" bson:"created_by"`

	Priority Priority `json:"priority" bson:"priority"`
	Status   Status   `json:"status" bson:"status"`

	DueDate           *time.Time `json:"due_date,omitempty" bson:"due_date,omitempty"`
	DueTime           string     `json:"due_time,omitempty" bson:"due_time,omitempty"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty" bson:"estimated_duration,omitempty"`
	ActualDuration    *int       `json:"actual_duration,omitempty" bson:"actual_duration,omitempty"`

	Tags     []string `json:"tags" bson:"tags"`
	Category string   `json:"category,omitempty" bson:"category,omitempty"`

	Version    int    `json:"version" bson:"version"`
	ModifiedBy string `json:"modified_by,omitempty" bson:"modified_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (t Task) Clone() Task {
	c := t
	c.AssignedTo = append([]string(nil), t.AssignedTo...)
	c.Tags = append([]string(nil), t.Tags...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedDuration != nil {
		v := *t.EstimatedDuration
		c.EstimatedDuration = &v
	}
	if t.ActualDuration != nil {
		v := *t.ActualDuration
		c.ActualDuration = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// DateOf truncates t to its calendar date in t's own location and returns it as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const DateLayout = "2006-01-02"

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
