package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NewTask - данные для создания задачи. ID и временные метки назначает бэкенд.
type NewTask struct {
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	AssignedTo        []string   `json:"assigned_to"`
	CreatedBy         string     `json:"created_by"`
	Priority          Priority   `json:"priority"`
	Status            Status     `json:"status"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	DueTime           string     `json:"due_time,omitempty"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty"`
	Tags              []string   `json:"tags"`
	Category          string     `json:"category,omitempty"`
}

// Optional is a patch field for a nullable value.
// Set=false leaves the field untouched, Set=true with a nil Value clears it.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// TaskPatch - частичное обновление задачи.
type TaskPatch struct {
	Title             *string             `json:"title,omitempty"`
	Description       Optional[string]    `json:"description,omitzero"`
	AssignedTo        *[]string           `json:"assigned_to,omitempty"`
	Priority          *Priority           `json:"priority,omitempty"`
	Status            *Status             `json:"status,omitempty"`
	DueDate           Optional[time.Time] `json:"due_date,omitzero"`
	DueTime           Optional[string]    `json:"due_time,omitzero"`
	EstimatedDuration Optional[int]       `json:"estimated_duration,omitzero"`
	ActualDuration    Optional[int]       `json:"actual_duration,omitzero"`
	Tags              *[]string           `json:"tags,omitempty"`
	Category          Optional[string]    `json:"category,omitzero"`
	CompletedAt       Optional[time.Time] `json:"completed_at,omitzero"`
	ModifiedBy        string              `json:"modified_by,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && !p.Description.Set && p.AssignedTo == nil && p.Priority == nil &&
		p.Status == nil && !p.DueDate.Set && !p.DueTime.Set && !p.EstimatedDuration.Set &&
		!p.ActualDuration.Set && p.Tags == nil && !p.Category.Set && !p.CompletedAt.Set
}

var dueTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks a create request and normalizes it in place.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return invalid("title is required")
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if !n.Priority.Valid() {
		return invalid("unknown priority %q", n.Priority)
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if !n.Status.Valid() {
		return invalid("unknown status %q", n.Status)
	}
	if n.DueTime != "" {
		if n.DueDate == nil {
			return invalid("due_time requires due_date")
		}
		if !dueTimePattern.MatchString(n.DueTime) {
			return invalid("due_time must be HH:MM")
		}
	}
	if n.EstimatedDuration != nil && *n.EstimatedDuration <= 0 {
		return invalid("estimated_duration must be positive")
	}
	if n.DueDate != nil {
		d := DateOf(*n.DueDate)
		n.DueDate = &d
	}
	n.AssignedTo = Dedup(n.AssignedTo)
	n.Tags = Dedup(n.Tags)
	return nil
}

// Validate checks a partial update and normalizes it in place.
func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return invalid("title is required")
		}
		p.Title = &title
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("unknown priority %q", *p.Priority)
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("unknown status %q", *p.Status)
	}
	if p.DueTime.Value != nil && *p.DueTime.Value != "" && !dueTimePattern.MatchString(*p.DueTime.Value) {
		return invalid("due_time must be HH:MM")
	}
	if v := p.EstimatedDuration.Value; v != nil && *v <= 0 {
		return invalid("estimated_duration must be positive")
	}
	if v := p.ActualDuration.Value; v != nil && *v <= 0 {
		return invalid("actual_duration must be positive")
	}
	if p.DueDate.Value != nil {
		d := DateOf(*p.DueDate.Value)
		p.DueDate.Value = &d
	}
	if p.AssignedTo != nil {
		a := Dedup(*p.AssignedTo)
		p.AssignedTo = &a
	}
	if p.Tags != nil {
		tags := Dedup(*p.Tags)
		p.Tags = &tags
	}
	return nil
}

// ValidateFor checks the patch against the task it is about to change: a due time needs a
// due date, already on the task or set by the same patch. actual_duration is accepted in
// any status.
func (p TaskPatch) ValidateFor(t Task) error {
	if p.DueTime.Value == nil || *p.DueTime.Value == "" {
		return nil
	}
	due := t.DueDate
	if p.DueDate.Set {
		due = p.DueDate.Value
	}
	if due == nil {
		return invalid("due_time requires due_date")
	}
	return nil
}

// ApplyTo merges the patch into t. updated_at and the version counter always move;
// completed_at is stamped on the transition into completed and cleared when leaving it.
func (p TaskPatch) ApplyTo(t *Task, now time.Time) {
	wasCompleted := t.Status == StatusCompleted

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description.Set {
		t.Description = deref(p.Description.Value)
	}
	if p.AssignedTo != nil {
		t.AssignedTo = append([]string(nil), (*p.AssignedTo)...)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate.Set {
		t.DueDate = copyPtr(p.DueDate.Value)
		if t.DueDate == nil {
			t.DueTime = ""
		}
	}
	if p.DueTime.Set {
		t.DueTime = deref(p.DueTime.Value)
	}
	if p.EstimatedDuration.Set {
		t.EstimatedDuration = copyPtr(p.EstimatedDuration.Value)
	}
	if p.ActualDuration.Set {
		t.ActualDuration = copyPtr(p.ActualDuration.Value)
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Category.Set {
		t.Category = deref(p.Category.Value)
	}
	if p.ModifiedBy != "" {
		t.ModifiedBy = p.ModifiedBy
	}

	switch {
	case t.Status != StatusCompleted:
		t.CompletedAt = nil
	case p.CompletedAt.Value != nil:
		t.CompletedAt = copyPtr(p.CompletedAt.Value)
	case !wasCompleted || t.CompletedAt == nil:
		ts := now
		t.CompletedAt = &ts
	}

	t.UpdatedAt = now
	t.Version++
}

// Dedup keeps the first occurrence of every non-empty value.
func Dedup(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FromNew builds the task record an adapter persists for a validated create request.
func FromNew(n NewTask, id, familyID string, now time.Time) Task {
	return Task{
		ID:                id,
		FamilyID:          familyID,
		Title:             n.Title,
		Description:       n.Description,
		AssignedTo:        append([]string{}, n.AssignedTo...),
		CreatedBy:         n.CreatedBy,
		Priority:          n.Priority,
		Status:            n.Status,
		DueDate:           copyPtr(n.DueDate),
		DueTime:           n.DueTime,
		EstimatedDuration: copyPtr(n.EstimatedDuration),
		Tags:              append([]string{}, n.Tags...),
		Category:          n.Category,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		CompletedAt:       completedAtFor(n.Status, now),
	}
}

func completedAtFor(s Status, now time.Time) *time.Time {
	if s != StatusCompleted {
		return nil
	}
	return &now
}
