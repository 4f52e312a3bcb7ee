package repo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
)

const (
	TasksCollection = "tasks"

	// BSON хранит время с точностью до миллисекунды
	timePrecision = time.Millisecond
)

// MongoProvider - документный бэкенд: одна коллекция, поле family_id в каждом документе.
// Без внешнего канала изменений подписки опрашивают коллекцию.
type MongoProvider struct {
	coll   *mongo.Collection
	opts   Options
	logger *zap.Logger
}

func NewMongoProvider(db *mongo.Database, logger *zap.Logger, opts ...Option) *MongoProvider {
	o := buildOptions(opts)
	if o.Feed == nil {
		o.Feed = changefeed.Poll{}
	}
	return &MongoProvider{coll: db.Collection(TasksCollection), opts: o, logger: logger}
}

func (p *MongoProvider) Name() string { return "mongo" }

func (p *MongoProvider) Ping(ctx context.Context) error {
	return backendError("ping", p.coll.Database().Client().Ping(ctx, nil))
}

// EnsureIndexes creates the indexes the family-scoped queries rely on.
func (p *MongoProvider) EnsureIndexes(ctx context.Context) error {
	_, err := p.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "family_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "family_id", Value: 1}, {Key: "due_date", Value: 1}}},
		{Keys: bson.D{{Key: "family_id", Value: 1}, {Key: "assigned_to", Value: 1}}},
	})
	return backendError("create indexes", err)
}

func (p *MongoProvider) ForFamily(familyID string) (TaskRepository, error) {
	if err := checkFamily(familyID); err != nil {
		return nil, err
	}
	return &MongoRepo{familyID: familyID, p: p}, nil
}

type MongoRepo struct {
	familyID string
	p        *MongoProvider
}

func (r *MongoRepo) FamilyID() string { return r.familyID }

func (r *MongoRepo) publish(ctx context.Context) {
	if err := r.p.opts.Feed.Publish(context.WithoutCancel(ctx), r.familyID); err != nil {
		r.p.logger.Warn("failed to publish change", zap.String("family_id", r.familyID), zap.Error(err))
	}
}

func (r *MongoRepo) byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "family_id", Value: r.familyID}}
}

func (r *MongoRepo) CreateTask(ctx context.Context, n model.NewTask) (model.Task, error) {
	if err := n.Validate(); err != nil {
		return model.Task{}, err
	}
	t := model.FromNew(n, uuid.NewString(), r.familyID, r.p.opts.now())
	t.CreatedAt = t.CreatedAt.Truncate(timePrecision)
	t.UpdatedAt = t.CreatedAt
	if t.CompletedAt != nil {
		c := t.CreatedAt
		t.CompletedAt = &c
	}

	if _, err := r.p.coll.InsertOne(ctx, t); err != nil {
		return model.Task{}, backendError("create task", err)
	}
	r.publish(ctx)
	return t, nil
}

func (r *MongoRepo) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := r.p.coll.FindOne(ctx, r.byID(id)).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, backendError("get task", err)
	}
	return &t, nil
}

func (r *MongoRepo) GetTasks(ctx context.Context, filter *model.TaskFilter, sort *model.TaskSort) ([]model.Task, error) {
	if sort != nil {
		if err := sort.Validate(); err != nil {
			return nil, err
		}
	}
	if filter != nil && filter.MatchNone {
		return []model.Task{}, nil
	}

	// базовый порядок по созданию; итоговую сортировку делает model.SortTasks (NULL в конце)
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.p.coll.Find(ctx, buildDocFilter(r.familyID, filter), opts)
	if err != nil {
		return nil, backendError("get tasks", err)
	}

	tasks := make([]model.Task, 0)
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, backendError("get tasks", err)
	}
	model.SortTasks(tasks, sort)
	return tasks, nil
}

func buildDocFilter(familyID string, f *model.TaskFilter) bson.D {
	q := bson.D{{Key: "family_id", Value: familyID}}
	if f == nil {
		return q
	}
	if len(f.Status) > 0 {
		q = append(q, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: toStrings(f.Status)}}})
	}
	if len(f.Priority) > 0 {
		q = append(q, bson.E{Key: "priority", Value: bson.D{{Key: "$in", Value: toStrings(f.Priority)}}})
	}
	if len(f.AssignedTo) > 0 {
		q = append(q, bson.E{Key: "assigned_to", Value: bson.D{{Key: "$in", Value: f.AssignedTo}}})
	}
	if len(f.Tags) > 0 {
		q = append(q, bson.E{Key: "tags", Value: bson.D{{Key: "$in", Value: f.Tags}}})
	}
	if f.DueDate != nil {
		due := bson.D{{Key: "$type", Value: "date"}}
		if f.DueDate.Start != nil {
			due = append(due, bson.E{Key: "$gte", Value: model.DateOf(*f.DueDate.Start)})
		}
		if f.DueDate.End != nil {
			due = append(due, bson.E{Key: "$lt", Value: model.DateOf(*f.DueDate.End)})
		}
		q = append(q, bson.E{Key: "due_date", Value: due})
	}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		q = append(q, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "title", Value: re}},
			bson.D{{Key: "description", Value: re}},
		}})
	}
	return q
}

// UpdateTask читает документ, применяет патч и заменяет документ целиком.
// version только растёт и не проверяется: побеждает последняя запись.
func (r *MongoRepo) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}

	current, err := r.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if current == nil {
		return model.Task{}, notFound(id)
	}
	if err := patch.ValidateFor(*current); err != nil {
		return model.Task{}, err
	}
	patch.ApplyTo(current, r.p.opts.now().Truncate(timePrecision))

	res, err := r.p.coll.ReplaceOne(ctx, r.byID(id), current)
	if err != nil {
		return model.Task{}, backendError("update task", err)
	}
	if res.MatchedCount == 0 {
		// удалена между чтением и записью
		return model.Task{}, notFound(id)
	}
	r.publish(ctx)
	return *current, nil
}

func (r *MongoRepo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.UpdateTask(ctx, id, cancelPatch())
	return err
}

func (r *MongoRepo) PermanentDeleteTask(ctx context.Context, id string) error {
	res, err := r.p.coll.DeleteOne(ctx, r.byID(id))
	if err != nil {
		return backendError("delete task", err)
	}
	if res.DeletedCount == 0 {
		return notFound(id)
	}
	r.publish(ctx)
	return nil
}

func (r *MongoRepo) CompleteTask(ctx context.Context, id string, actualDuration *int) (model.Task, error) {
	return r.UpdateTask(ctx, id, completePatch(actualDuration, r.p.opts.now().Truncate(timePrecision)))
}

func (r *MongoRepo) GetSmartList(ctx context.Context, t smartlist.Type, userID string) ([]model.Task, error) {
	return smartList(ctx, r, r.p.opts.Clock(), t, userID)
}

func (r *MongoRepo) OnTasksChange(ctx context.Context, cb Callback, filter *model.TaskFilter, userID string) (Unsubscribe, error) {
	f := filter.WithAssignee(userID)
	fetch := func(ctx context.Context) ([]model.Task, error) {
		return r.GetTasks(ctx, f, nil)
	}
	return subscribe(ctx, r.p.opts.Feed, r.familyID, r.p.opts.RefreshTimeout, fetch, cb, r.p.logger)
}

func (r *MongoRepo) BatchUpdateTasks(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	return runBatch(ctx, r.p.opts.Workers, items, r.UpdateTask)
}
