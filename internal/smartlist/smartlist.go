// Package smartlist maps a named smart list to a concrete filter and sort pair.
package smartlist

import (
	"fmt"
	"time"

	"github.com/BuzzLyutic/family-hub/internal/model"
)

type Type string

const (
	Today        Type = "today"
	ThisWeek     Type = "this_week"
	Overdue      Type = "overdue"
	AssignedToMe Type = "assigned_to_me"
	HighPriority Type = "high_priority"
	Completed    Type = "completed"
)

// List is a computed, never persisted, filter+sort pair.
type List struct {
	Type   Type             `json:"type"`
	Name   string           `json:"name"`
	Filter model.TaskFilter `json:"filter"`
	Sort   *model.TaskSort  `json:"sort,omitempty"`
}

var names = map[Type]string{
	Today:        "Today",
	ThisWeek:     "This Week",
	Overdue:      "Overdue",
	AssignedToMe: "Assigned to Me",
	HighPriority: "High Priority",
	Completed:    "Completed",
}

// Types returns the catalogue in display order.
func Types() []Type {
	return []Type{Today, ThisWeek, Overdue, AssignedToMe, HighPriority, Completed}
}

func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

func (t Type) Name() string { return names[t] }

var active = []model.Status{model.StatusPending, model.StatusInProgress}

// Classify builds the filter and sort for a smart list at the instant now.
// "Today" is the calendar date of now in now's location. assigned_to_me without a user
// yields a filter that matches nothing.
func Classify(t Type, now time.Time, userID string) (List, error) {
	if !t.Valid() {
		return List{}, fmt.Errorf("%w: unknown smart list %q", model.ErrValidation, t)
	}

	today := model.DateOf(now)
	tomorrow := today.AddDate(0, 0, 1)
	weekEnd := today.AddDate(0, 0, 7)
	byDue := &model.TaskSort{Field: model.SortDueDate, Direction: model.Asc}

	l := List{Type: t, Name: t.Name()}
	switch t {
	case Today:
		l.Filter = model.TaskFilter{Status: statuses(), DueDate: &model.DateRange{Start: &today, End: &tomorrow}}
		l.Sort = byDue
	case ThisWeek:
		l.Filter = model.TaskFilter{Status: statuses(), DueDate: &model.DateRange{Start: &today, End: &weekEnd}}
		l.Sort = byDue
	case Overdue:
		l.Filter = model.TaskFilter{Status: statuses(), DueDate: &model.DateRange{End: &today}}
		l.Sort = byDue
	case AssignedToMe:
		if userID == "" {
			l.Filter = model.TaskFilter{MatchNone: true}
			return l, nil
		}
		l.Filter = model.TaskFilter{AssignedTo: []string{userID}, Status: statuses()}
	case HighPriority:
		l.Filter = model.TaskFilter{
			Priority: []model.Priority{model.PriorityUrgent, model.PriorityHigh},
			Status:   statuses(),
		}
		l.Sort = &model.TaskSort{Field: model.SortPriority, Direction: model.Desc}
	case Completed:
		l.Filter = model.TaskFilter{Status: []model.Status{model.StatusCompleted}}
		l.Sort = &model.TaskSort{Field: model.SortCompletedAt, Direction: model.Desc}
	}
	return l, nil
}

func statuses() []model.Status {
	return append([]model.Status(nil), active...)
}
