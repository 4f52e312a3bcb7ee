package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed before signal")
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}
}

func assertNoSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed")
		}
	}
}

func TestMemory_PublishReachesOnlyFamily(t *testing.T) {
	feed := NewMemory()
	ctx := context.Background()

	a, closeA, err := feed.Subscribe(ctx, "fam-a")
	require.NoError(t, err)
	b, closeB, err := feed.Subscribe(ctx, "fam-b")
	require.NoError(t, err)
	defer closeB()

	require.NoError(t, feed.Publish(ctx, "fam-a"))
	waitSignal(t, a)
	assertNoSignal(t, b)

	closeA()
	closeA()
	waitClosed(t, a)
	assert.Equal(t, 0, feed.Subscribers("fam-a"))
	assert.Equal(t, 1, feed.Subscribers("fam-b"))

	// публикация без подписчиков не падает
	require.NoError(t, feed.Publish(ctx, "fam-a"))
}

func TestMemory_SignalsCoalesce(t *testing.T) {
	feed := NewMemory()
	ch, closeFn, err := feed.Subscribe(context.Background(), "fam")
	require.NoError(t, err)
	defer closeFn()

	for i := 0; i < 5; i++ {
		require.NoError(t, feed.Publish(context.Background(), "fam"))
	}
	waitSignal(t, ch)
	assertNoSignal(t, ch)
}

func TestPoll_Ticks(t *testing.T) {
	ch, closeFn, err := Poll{Interval: 10 * time.Millisecond}.Subscribe(context.Background(), "fam")
	require.NoError(t, err)

	waitSignal(t, ch)
	waitSignal(t, ch)

	closeFn()
	closeFn()
	waitClosed(t, ch)
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedis_PublishSubscribe(t *testing.T) {
	client, _ := setupTestRedis(t)
	feed := NewRedis(client, "familyhub:tasks:", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, feed.Ping(ctx))

	ch, closeFn, err := feed.Subscribe(ctx, "fam-1")
	require.NoError(t, err)

	other, closeOther, err := feed.Subscribe(ctx, "fam-2")
	require.NoError(t, err)
	defer closeOther()

	require.NoError(t, feed.Publish(ctx, "fam-1"))
	waitSignal(t, ch)
	assertNoSignal(t, other)

	closeFn()
	closeFn()
	waitClosed(t, ch)
}

func TestRedis_SubscribeFailsWhenServerDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	feed := NewRedis(client, "familyhub:tasks:", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := feed.Subscribe(ctx, "fam-1")
	assert.Error(t, err)
	assert.Error(t, feed.Publish(ctx, "fam-1"))
}
