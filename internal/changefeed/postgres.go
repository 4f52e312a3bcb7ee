package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultPostgresChannel matches the trigger installed by the tasks migration.
const DefaultPostgresChannel = "task_changes"

// Postgres listens on a LISTEN/NOTIFY channel whose payload is the family id.
// Each subscription holds one pooled connection for its lifetime.
type Postgres struct {
	pool    *pgxpool.Pool
	channel string
	logger  *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, channel string, logger *zap.Logger) *Postgres {
	if channel == "" {
		channel = DefaultPostgresChannel
	}
	return &Postgres{pool: pool, channel: channel, logger: logger}
}

func (p *Postgres) Publish(ctx context.Context, familyID string) error {
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, familyID); err != nil {
		return fmt.Errorf("changefeed notify error: %w", err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, familyID string) (<-chan struct{}, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("changefeed acquire error: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("changefeed listen error: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer func() {
			// соединение возвращается в пул без подписки; сломанное пул выбросит сам
			cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cleanupCancel()
			if !conn.Conn().IsClosed() {
				conn.Exec(cleanupCtx, "UNLISTEN *")
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					p.logger.Error("changefeed listener stopped",
						zap.String("family_id", familyID), zap.Error(err))
				}
				return
			}
			if n.Payload == familyID {
				notify(out)
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(cancel) }, nil
}
