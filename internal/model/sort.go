package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type SortField string

const (
	SortDueDate     SortField = "due_date"
	SortPriority    SortField = "priority"
	SortCreatedAt   SortField = "created_at"
	SortTitle       SortField = "title"
	SortStatus      SortField = "status"
	SortCompletedAt SortField = "completed_at"
)

func (f SortField) Valid() bool {
	switch f {
	case SortDueDate, SortPriority, SortCreatedAt, SortTitle, SortStatus, SortCompletedAt:
		return true
	}
	return false
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type TaskSort struct {
	Field     SortField `json:"field"`
	Direction Direction `json:"direction"`
}

func (s TaskSort) Validate() error {
	if !s.Field.Valid() {
		return fmt.Errorf("%w: unknown sort field %q", ErrValidation, s.Field)
	}
	if s.Direction != Asc && s.Direction != Desc {
		return fmt.Errorf("%w: unknown sort direction %q", ErrValidation, s.Direction)
	}
	return nil
}

// compareField returns the ordering of a and b on field; null reports a missing value on either side.
func compareField(field SortField, a, b Task) (cmp int, aNull, bNull bool) {
	switch field {
	case SortDueDate:
		return compareTimes(a.DueDate, b.DueDate)
	case SortCompletedAt:
		return compareTimes(a.CompletedAt, b.CompletedAt)
	case SortCreatedAt:
		return compareTimes(&a.CreatedAt, &b.CreatedAt)
	case SortPriority:
		return compareInts(a.Priority.Rank(), b.Priority.Rank()), false, false
	case SortStatus:
		return compareInts(a.Status.Order(), b.Status.Order()), false, false
	case SortTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)), a.Title == "", b.Title == ""
	}
	return 0, false, false
}

func compareTimes(a, b *time.Time) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	return a.Compare(*b), false, false
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// less orders by one key: missing values go last regardless of direction.
func less(field SortField, dir Direction, a, b Task) (result bool, decided bool) {
	cmp, aNull, bNull := compareField(field, a, b)
	switch {
	case aNull && bNull:
		return false, false
	case aNull:
		return false, true
	case bNull:
		return true, true
	case cmp == 0:
		return false, false
	}
	if dir == Desc {
		return cmp > 0, true
	}
	return cmp < 0, true
}

// SortTasks sorts tasks in place with a stable sort. A nil sort applies the repository
// default: due date ascending (nulls last), then priority descending.
func SortTasks(tasks []Task, s *TaskSort) {
	keys := []TaskSort{{Field: SortDueDate, Direction: Asc}, {Field: SortPriority, Direction: Desc}}
	if s != nil {
		keys = []TaskSort{*s}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		for _, k := range keys {
			if r, ok := less(k.Field, k.Direction, tasks[i], tasks[j]); ok {
				return r
			}
		}
		return false
	})
}

// ApplyFilterAndSort is the pure derivation tasks -> filtered -> sorted. A nil sort keeps the
// input order. The input slice is never modified.
func ApplyFilterAndSort(tasks []Task, f *TaskFilter, s *TaskSort) []Task {
	out := FilterTasks(tasks, f)
	if s != nil {
		SortTasks(out, s)
	}
	return out
}
