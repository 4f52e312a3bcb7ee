package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/config"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
	"github.com/BuzzLyutic/family-hub/internal/store"
	"github.com/BuzzLyutic/family-hub/internal/testutil"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(*testing.T, options)
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, o options) {
				assert.Equal(t, "demo", o.family)
				assert.Nil(t, o.filter())
				s, err := o.sort()
				require.NoError(t, err)
				assert.Nil(t, s)
			},
		},
		{
			name: "filter and sort",
			args: []string{"-f", "fam-1", "--status", "pending,in_progress", "--sort", "title", "--dir", "desc"},
			check: func(t *testing.T, o options) {
				assert.Equal(t, "fam-1", o.family)
				assert.Equal(t, []model.Status{model.StatusPending, model.StatusInProgress}, o.filter().Status)
				s, err := o.sort()
				require.NoError(t, err)
				assert.Equal(t, &model.TaskSort{Field: model.SortTitle, Direction: model.Desc}, s)
			},
		},
		{
			name: "bad sort field",
			args: []string{"--sort", "owner"},
			check: func(t *testing.T, o options) {
				_, err := o.sort()
				assert.ErrorIs(t, err, model.ErrValidation)
			},
		},
		{name: "unknown smart list", args: []string{"--smart-list", "someday"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestRunOnceAgainstDemo(t *testing.T) {
	cfg := config.Default()
	o, err := parseFlags([]string{"--once", "--smart-list", "overdue"})
	require.NoError(t, err)

	assert.NoError(t, run(cfg, o, zap.NewNop()))
}

func TestFormatTask(t *testing.T) {
	due := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	got := formatTask(model.Task{
		Title:      "Walk dog",
		Status:     model.StatusPending,
		Priority:   model.PriorityHigh,
		DueDate:    &due,
		DueTime:    "18:00",
		AssignedTo: []string{"sam", "alex"},
	})
	assert.Equal(t, "[pending] Walk dog (high) due 2024-06-15 18:00 -> sam,alex", got)
}

// testClock - часы, которые тест переводит вперёд
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func watchFixture(t *testing.T, clock *testClock) (*store.Store, repo.TaskRepository) {
	t.Helper()
	p := repo.NewMemoryProvider(zap.NewNop(), repo.WithClock(clock.Now))
	day := func(offset int) *time.Time {
		d := model.DateOf(clock.Now()).AddDate(0, 0, offset)
		return &d
	}
	p.Seed(
		model.Task{FamilyID: "fam-1", Title: "Pay rent", Status: model.StatusPending, Priority: model.PriorityUrgent, DueDate: day(-1)},
		model.Task{FamilyID: "fam-1", Title: "Walk dog", Status: model.StatusPending, Priority: model.PriorityNormal, DueDate: day(0)},
		model.Task{FamilyID: "fam-1", Title: "Clean garage", Status: model.StatusPending, Priority: model.PriorityLow},
		model.Task{FamilyID: "fam-1", Title: "Dentist", Status: model.StatusCompleted, Priority: model.PriorityNormal, DueDate: day(-3)},
	)

	s := store.New(p, zap.NewNop(), store.WithClock(clock.Now))
	require.NoError(t, s.InitializeRepository("fam-1"))
	r, err := p.ForFamily("fam-1")
	require.NoError(t, err)
	return s, r
}

func titlesOf(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func startWatch(t *testing.T, s *store.Store, o options, clock *testClock, ticks <-chan time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, s, o, clock.Now, ticks) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestWatch_SmartListSurvivesPush(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	s, r := watchFixture(t, clock)
	ctx := context.Background()

	o, err := parseFlags([]string{"-f", "fam-1", "--smart-list", "overdue"})
	require.NoError(t, err)
	require.NoError(t, s.LoadSmartList(ctx, smartlist.Overdue, ""))
	require.Equal(t, []string{"Pay rent"}, titlesOf(s.Tasks()))

	startWatch(t, s, o, clock, nil)

	late := model.DateOf(clock.Now()).AddDate(0, 0, -2)
	_, err = r.CreateTask(ctx, model.NewTask{Title: "Return books", DueDate: &late})
	require.NoError(t, err)

	require.True(t, testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return len(s.Tasks()) == 2
	}))
	assert.ElementsMatch(t, []string{"Pay rent", "Return books"}, titlesOf(s.Tasks()))
	assert.Equal(t, []string{"Return books", "Pay rent"}, titlesOf(s.FilteredTasks()), "due date ascending")
}

func TestWatch_ReclassifiesOnNewDay(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	s, _ := watchFixture(t, clock)

	o, err := parseFlags([]string{"-f", "fam-1", "--smart-list", "overdue"})
	require.NoError(t, err)

	ticks := make(chan time.Time)
	startWatch(t, s, o, clock, ticks)
	require.True(t, testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return assert.ObjectsAreEqual([]string{"Pay rent"}, titlesOf(s.FilteredTasks()))
	}))

	// тот же день: подписка не меняется
	ticks <- clock.advance(time.Hour)
	assert.Equal(t, []string{"Pay rent"}, titlesOf(s.FilteredTasks()))

	// после полуночи "Walk dog" становится просроченной
	ticks <- clock.advance(24 * time.Hour)
	require.True(t, testutil.WaitForCondition(t, 2*time.Second, func() bool {
		return assert.ObjectsAreEqual([]string{"Pay rent", "Walk dog"}, titlesOf(s.FilteredTasks()))
	}))
}

func TestOptions_View(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	o, err := parseFlags([]string{"--smart-list", "assigned_to_me", "-u", "sam"})
	require.NoError(t, err)
	filter, sort, user, err := o.view(now)
	require.NoError(t, err)
	assert.Equal(t, []string{"sam"}, filter.AssignedTo)
	assert.Nil(t, sort)
	assert.Empty(t, user, "user is folded into the smart list filter")

	o, err = parseFlags([]string{"--status", "pending", "-u", "sam", "--sort", "title"})
	require.NoError(t, err)
	filter, sort, user, err = o.view(now)
	require.NoError(t, err)
	assert.Equal(t, []model.Status{model.StatusPending}, filter.Status)
	assert.Equal(t, model.SortTitle, sort.Field)
	assert.Equal(t, "sam", user)
}
