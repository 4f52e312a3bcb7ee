// Package testutil starts throwaway databases for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/migrations"
)

// SetupPostgres возвращает пул к мигрированной БД: TEST_DATABASE_URL или контейнер.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		pgContainer, err := postgres.Run(ctx,
			"postgres:15-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("testuser"),
			postgres.WithPassword("testpass"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Fatalf("Failed to start postgres container: %v", err)
		}
		t.Cleanup(func() {
			if err := pgContainer.Terminate(context.Background()); err != nil {
				t.Errorf("Failed to terminate container: %v", err)
			}
		})

		dbURL, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("Failed to get connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
	if err := migrations.Up(pool, zap.NewNop()); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	TruncateTasks(t, pool)
	return pool
}

// TruncateTasks очищает таблицу задач
func TruncateTasks(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE tasks"); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// SetupMongo returns a handle to an empty database: TEST_MONGO_URI or a container.
func SetupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		mongoContainer, err := mongodb.Run(ctx, "mongo:7")
		if err != nil {
			t.Fatalf("Failed to start mongo container: %v", err)
		}
		t.Cleanup(func() {
			if err := mongoContainer.Terminate(context.Background()); err != nil {
				t.Errorf("Failed to terminate container: %v", err)
			}
		})

		uri, err = mongoContainer.ConnectionString(ctx)
		if err != nil {
			t.Fatalf("Failed to get connection string: %v", err)
		}
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("Failed to ping mongo: %v", err)
	}

	db := client.Database("familyhub_test")
	if err := db.Drop(ctx); err != nil {
		t.Fatalf("Failed to reset mongo database: %v", err)
	}
	return db
}

// WaitForCondition ждет выполнения условия с таймаутом
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return condition()
}
