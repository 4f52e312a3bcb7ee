package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortTasks_NullsLast(t *testing.T) {
	completed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	later := completed.Add(time.Hour)

	tasks := []Task{
		{ID: "no-due", Title: "x"},
		{ID: "late", Title: "x", DueDate: date("2024-07-01"), CompletedAt: &later},
		{ID: "early", Title: "x", DueDate: date("2024-06-01"), CompletedAt: &completed},
	}

	for _, field := range []SortField{SortDueDate, SortCompletedAt} {
		for _, dir := range []Direction{Asc, Desc} {
			t.Run(string(field)+"_"+string(dir), func(t *testing.T) {
				got := append([]Task(nil), tasks...)
				SortTasks(got, &TaskSort{Field: field, Direction: dir})
				assert.Equal(t, "no-due", got[len(got)-1].ID)
				if dir == Asc {
					assert.Equal(t, []string{"early", "late", "no-due"}, ids(got))
				} else {
					assert.Equal(t, []string{"late", "early", "no-due"}, ids(got))
				}
			})
		}
	}
}

func TestSortTasks_Fields(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "1", Title: "banana", Priority: PriorityLow, Status: StatusCompleted, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "2", Title: "Apple", Priority: PriorityUrgent, Status: StatusPending, CreatedAt: base},
		{ID: "3", Title: "cherry", Priority: PriorityNormal, Status: StatusInProgress, CreatedAt: base.Add(time.Hour)},
	}

	tests := []struct {
		sort TaskSort
		want []string
	}{
		{TaskSort{SortPriority, Desc}, []string{"2", "3", "1"}},
		{TaskSort{SortPriority, Asc}, []string{"1", "3", "2"}},
		{TaskSort{SortTitle, Asc}, []string{"2", "1", "3"}},
		{TaskSort{SortStatus, Asc}, []string{"2", "3", "1"}},
		{TaskSort{SortCreatedAt, Desc}, []string{"1", "3", "2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.sort.Field)+"_"+string(tt.sort.Direction), func(t *testing.T) {
			got := append([]Task(nil), tasks...)
			SortTasks(got, &tt.sort)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSortTasks_Default(t *testing.T) {
	tasks := []Task{
		{ID: "none-high", Priority: PriorityHigh},
		{ID: "d2-low", Priority: PriorityLow, DueDate: date("2024-06-02")},
		{ID: "d1-normal", Priority: PriorityNormal, DueDate: date("2024-06-01")},
		{ID: "d1-urgent", Priority: PriorityUrgent, DueDate: date("2024-06-01")},
		{ID: "none-urgent", Priority: PriorityUrgent},
	}
	SortTasks(tasks, nil)
	assert.Equal(t, []string{"d1-urgent", "d1-normal", "d2-low", "none-urgent", "none-high"}, ids(tasks))
}

func TestApplyFilterAndSort_Idempotent(t *testing.T) {
	f := &TaskFilter{Status: []Status{StatusPending, StatusInProgress, StatusCompleted}}
	s := &TaskSort{Field: SortDueDate, Direction: Desc}

	once := ApplyFilterAndSort(sampleTasks(), f, s)
	twice := ApplyFilterAndSort(once, f, s)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"b", "a", "c"}, ids(once))
}

func TestApplyFilterAndSort_DoesNotMutateInput(t *testing.T) {
	in := sampleTasks()
	_ = ApplyFilterAndSort(in, nil, &TaskSort{Field: SortTitle, Direction: Asc})
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(in))
}

func TestTaskSort_Validate(t *testing.T) {
	assert.NoError(t, TaskSort{Field: SortTitle, Direction: Asc}.Validate())
	assert.ErrorIs(t, TaskSort{Field: "color", Direction: Asc}.Validate(), ErrValidation)
	assert.ErrorIs(t, TaskSort{Field: SortTitle, Direction: "up"}.Validate(), ErrValidation)
}
