package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
	"github.com/BuzzLyutic/family-hub/internal/testutil"
)

func TestBuildDocFilter(t *testing.T) {
	q := buildDocFilter("fam-1", &model.TaskFilter{
		Status:  []model.Status{model.StatusPending},
		DueDate: &model.DateRange{End: date(2024, 6, 15)},
		Search:  "a.b",
	})

	m := q.Map()
	assert.Equal(t, "fam-1", m["family_id"])
	assert.Equal(t, bson.D{{Key: "$in", Value: []string{"pending"}}}, m["status"])
	assert.Equal(t, bson.D{{Key: "$type", Value: "date"}, {Key: "$lt", Value: *date(2024, 6, 15)}}, m["due_date"])

	re := primitive.Regex{Pattern: `a\.b`, Options: "i"}
	assert.Equal(t, bson.A{bson.D{{Key: "title", Value: re}}, bson.D{{Key: "description", Value: re}}}, m["$or"])

	assert.Equal(t, bson.D{{Key: "family_id", Value: "fam-1"}}, buildDocFilter("fam-1", nil))
}

func setupMongoRepo(t *testing.T, opts ...Option) (*MongoProvider, TaskRepository) {
	t.Helper()
	db := testutil.SetupMongo(t)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	p := NewMongoProvider(db, zap.NewNop(), opts...)
	require.NoError(t, p.EnsureIndexes(context.Background()))
	r, err := p.ForFamily("fam-1")
	require.NoError(t, err)
	return p, r
}

func TestMongoRepo_CRUD(t *testing.T) {
	p, r := setupMongoRepo(t)
	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	created, err := r.CreateTask(ctx, model.NewTask{Title: "Buy milk", DueDate: date(2024, 6, 15), DueTime: "18:00"})
	require.NoError(t, err)

	got, err := r.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.Title, got.Title)
	assert.True(t, date(2024, 6, 15).Equal(*got.DueDate))

	other, err := p.ForFamily("fam-2")
	require.NoError(t, err)
	hidden, err := other.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	done, err := r.CompleteTask(ctx, created.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, done.Version)
	require.NotNil(t, done.CompletedAt)

	require.NoError(t, r.DeleteTask(ctx, created.ID))
	got, err = r.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 3, got.Version)

	require.NoError(t, r.PermanentDeleteTask(ctx, created.ID))
	assert.ErrorIs(t, r.PermanentDeleteTask(ctx, created.ID), ErrorNotFound)
}

func TestMongoRepo_GetTasksMatchesMemory(t *testing.T) {
	_, doc := setupMongoRepo(t)
	_, mem := newMemoryRepo(t)
	ctx := context.Background()

	inputs := []model.NewTask{
		{Title: "Walk dog", Priority: model.PriorityHigh, DueDate: date(2024, 6, 15), AssignedTo: []string{"u1"}, Tags: []string{"pets"}},
		{Title: "pay (rent)", Priority: model.PriorityUrgent, DueDate: date(2024, 6, 14)},
		{Title: "Clean", Description: "kitchen", Priority: model.PriorityLow},
		{Title: "buy food", DueDate: date(2024, 6, 20), AssignedTo: []string{"u2"}},
	}
	for _, in := range inputs {
		_, err := doc.CreateTask(ctx, in)
		require.NoError(t, err)
		_, err = mem.CreateTask(ctx, in)
		require.NoError(t, err)
	}

	cases := []struct {
		name   string
		filter *model.TaskFilter
		sort   *model.TaskSort
	}{
		{"default", nil, nil},
		{"due desc nulls last", nil, &model.TaskSort{Field: model.SortDueDate, Direction: model.Desc}},
		{"assignee", &model.TaskFilter{AssignedTo: []string{"u1"}}, nil},
		{"search metacharacters", &model.TaskFilter{Search: "(RENT)"}, nil},
		{"range", &model.TaskFilter{DueDate: &model.DateRange{Start: date(2024, 6, 15)}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, err := mem.GetTasks(ctx, tc.filter, tc.sort)
			require.NoError(t, err)
			got, err := doc.GetTasks(ctx, tc.filter, tc.sort)
			require.NoError(t, err)
			assert.Equal(t, titles(want), titles(got))
		})
	}

	today, err := doc.GetSmartList(ctx, smartlist.Today, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Walk dog"}, titles(today))
}

func TestMongoRepo_OnTasksChangeViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	feed := changefeed.NewRedis(client, "familyhub:tasks:", zap.NewNop())
	_, r := setupMongoRepo(t, WithFeed(feed))
	ctx := context.Background()

	c := &collector{}
	unsubscribe, err := r.OnTasksChange(ctx, c.cb, nil, "u1")
	require.NoError(t, err)
	defer unsubscribe()

	require.True(t, testutil.WaitForCondition(t, 5*time.Second, func() bool { return c.count() >= 1 }))

	_, err = r.CreateTask(ctx, model.NewTask{Title: "mine", AssignedTo: []string{"u1"}})
	require.NoError(t, err)

	require.True(t, testutil.WaitForCondition(t, 5*time.Second, func() bool {
		return assert.ObjectsAreEqual([]string{"mine"}, titles(c.last()))
	}))
}
