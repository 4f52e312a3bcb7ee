// Package bootstrap opens the configured storage backend and its change feed.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/changefeed"
	"github.com/BuzzLyutic/family-hub/internal/config"
	"github.com/BuzzLyutic/family-hub/internal/migrations"
	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/worker"
)

const (
	DemoFamilyID    = "demo"
	redisFeedPrefix = "familyhub:tasks:"
	connectTimeout  = 10 * time.Second
)

// Backend - открытый провайдер и всё, что нужно закрыть при остановке.
type Backend struct {
	Provider repo.Provider
	closers  []func() error
}

func (b *Backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	return err
}

func (b *Backend) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// Open connects to the backend named in cfg. A Redis address, when set, replaces the
// backend's default change feed.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, pool *worker.Pool) (*Backend, error) {
	b := &Backend{}
	opts := []repo.Option{
		repo.WithWorkers(pool),
		repo.WithRefreshTimeout(cfg.CallTimeout),
	}

	if cfg.RedisAddr != "" {
		feed, err := openRedisFeed(ctx, b, cfg.RedisAddr, logger)
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		opts = append(opts, repo.WithFeed(feed))
	}

	var err error
	switch cfg.Backend {
	case config.BackendPostgres:
		b.Provider, err = openPostgres(ctx, b, cfg, logger, opts)
	case config.BackendMongo:
		b.Provider, err = openMongo(ctx, b, cfg, logger, opts)
	case config.BackendMemory:
		mem := repo.NewMemoryProvider(logger, opts...)
		if cfg.SeedDemo {
			mem.Seed(DemoTasks(time.Now())...)
		}
		b.Provider = mem
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, multierr.Append(err, b.Close())
	}

	logger.Info("Backend ready", zap.String("backend", b.Provider.Name()), zap.Bool("redis_feed", cfg.RedisAddr != ""))
	return b, nil
}

func openRedisFeed(ctx context.Context, b *Backend, addr string, logger *zap.Logger) (*changefeed.Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	b.onClose(client.Close)

	feed := changefeed.NewRedis(client, redisFeedPrefix, logger)
	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := feed.Ping(pctx); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return feed, nil
}

func openPostgres(ctx context.Context, b *Backend, cfg config.Config, logger *zap.Logger, opts []repo.Option) (repo.Provider, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL) // Создаем пул соединений к БД
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	b.onClose(func() error {
		pool.Close()
		return nil
	})

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Successfully connected to the Database!")

	if cfg.RunMigrations {
		if err := migrations.Up(pool, logger); err != nil {
			return nil, err
		}
	}
	return repo.NewPostgresProvider(pool, logger, opts...), nil
}

func openMongo(ctx context.Context, b *Backend, cfg config.Config, logger *zap.Logger, opts []repo.Option) (repo.Provider, error) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	b.onClose(func() error {
		dctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return client.Disconnect(dctx)
	})

	if err := client.Ping(cctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if cfg.RedisAddr == "" {
		// без Redis подписки опрашивают коллекцию
		opts = append(opts, repo.WithFeed(changefeed.Poll{Interval: cfg.PollInterval}))
	}
	p := repo.NewMongoProvider(client.Database(cfg.MongoDatabase), logger, opts...)
	if err := p.EnsureIndexes(cctx); err != nil {
		return nil, err
	}
	return p, nil
}

// DemoTasks returns a small household for the demo family with due dates relative to now.
func DemoTasks(now time.Time) []model.Task {
	today := model.DateOf(now)
	day := func(offset int) *time.Time {
		d := today.AddDate(0, 0, offset)
		return &d
	}
	minutes := func(m int) *int { return &m }
	created := now.UTC().Add(-48 * time.Hour)

	tasks := []model.Task{
		{Title: "Pay electricity bill", Priority: model.PriorityUrgent, Status: model.StatusPending, DueDate: day(-1), AssignedTo: []string{"alex"}, Tags: []string{"bills"}},
		{Title: "Walk the dog", Priority: model.PriorityHigh, Status: model.StatusPending, DueDate: day(0), DueTime: "18:00", AssignedTo: []string{"sam"}, Tags: []string{"pets"}, EstimatedDuration: minutes(30)},
		{Title: "Grocery run", Priority: model.PriorityNormal, Status: model.StatusInProgress, DueDate: day(2), AssignedTo: []string{"alex", "sam"}, Category: "errands"},
		{Title: "Clean the garage", Priority: model.PriorityLow, Status: model.StatusPending, Tags: []string{"weekend"}},
		{Title: "Book dentist appointment", Priority: model.PriorityNormal, Status: model.StatusCompleted, DueDate: day(-3), ActualDuration: minutes(10)},
	}
	for i := range tasks {
		tasks[i].FamilyID = DemoFamilyID
		tasks[i].CreatedBy = "demo"
		tasks[i].Version = 1
		tasks[i].CreatedAt = created.Add(time.Duration(i) * time.Minute)
		tasks[i].UpdatedAt = tasks[i].CreatedAt
		if tasks[i].Status == model.StatusCompleted {
			c := tasks[i].CreatedAt
			tasks[i].CompletedAt = &c
		}
	}
	return tasks
}
