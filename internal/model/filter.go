package model

import (
	"slices"
	"strings"
	"time"
)

// DateRange - диапазон дат выполнения: Start включительно, End не включительно.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// TaskFilter is a conjunction of optional predicates. An empty filter matches every task.
type TaskFilter struct {
	Status     []Status   `json:"status,omitempty"`
	Priority   []Priority `json:"priority,omitempty"`
	AssignedTo []string   `json:"assigned_to,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	DueDate    *DateRange `json:"due_date,omitempty"`
	Search     string     `json:"search,omitempty"`

	// MatchNone short-circuits every query to an empty result.
	MatchNone bool `json:"match_none,omitempty"`
}

func (f *TaskFilter) Clone() *TaskFilter {
	if f == nil {
		return nil
	}
	c := *f
	c.Status = slices.Clone(f.Status)
	c.Priority = slices.Clone(f.Priority)
	c.AssignedTo = slices.Clone(f.AssignedTo)
	c.Tags = slices.Clone(f.Tags)
	if f.DueDate != nil {
		r := *f.DueDate
		c.DueDate = &r
	}
	return &c
}

// WithAssignee narrows the filter to tasks assigned to userID.
func (f *TaskFilter) WithAssignee(userID string) *TaskFilter {
	c := f.Clone()
	if c == nil {
		c = &TaskFilter{}
	}
	if userID == "" {
		return c
	}
	if len(c.AssignedTo) == 0 {
		c.AssignedTo = []string{userID}
		return c
	}
	// пересечение с уже заданным списком
	if slices.Contains(c.AssignedTo, userID) {
		c.AssignedTo = []string{userID}
	} else {
		c.MatchNone = true
	}
	return c
}

// Matches reports whether t satisfies every predicate present in f.
func (f *TaskFilter) Matches(t Task) bool {
	if f == nil {
		return true
	}
	if f.MatchNone {
		return false
	}
	if len(f.Status) > 0 && !slices.Contains(f.Status, t.Status) {
		return false
	}
	if len(f.Priority) > 0 && !slices.Contains(f.Priority, t.Priority) {
		return false
	}
	if len(f.AssignedTo) > 0 && !intersects(t.AssignedTo, f.AssignedTo) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(t.Tags, f.Tags) {
		return false
	}
	if f.DueDate != nil && !f.DueDate.Contains(t.DueDate) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// Contains compares calendar dates. A task without a due date never falls inside a range.
func (r DateRange) Contains(due *time.Time) bool {
	if due == nil {
		return false
	}
	d := DateOf(*due)
	if r.Start != nil && d.Before(DateOf(*r.Start)) {
		return false
	}
	if r.End != nil && !d.Before(DateOf(*r.End)) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

// FilterTasks returns the tasks matching f, preserving input order.
func FilterTasks(tasks []Task, f *TaskFilter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}
