package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "executor", 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "executor", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "executor", 10*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiter(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 3, time.Second)

	for i := range 3 {
		ok, err := rl.Allow(ctx, "data-api")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "data-api")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other keys have their own budget.
	ok, err = rl.Allow(ctx, "clob")
	require.NoError(t, err)
	assert.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(waitCtx, "data-api"))
}

func TestLeaderboardCache(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	lc := NewLeaderboardCache(c, time.Minute)

	_, err := lc.Get(ctx, "WEEK")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entries := []domain.LeaderboardEntry{{
		Rank:        1,
		ProxyWallet: "0xabc",
		UserName:    "whale",
		Volume:      decimal.RequireFromString("1000.5"),
		PnL:         decimal.RequireFromString("-12"),
	}}
	require.NoError(t, lc.Set(ctx, "WEEK", entries))

	got, err := lc.Get(ctx, "WEEK")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "whale", got[0].UserName)
	assert.True(t, got[0].Volume.Equal(entries[0].Volume))
}

func TestEventBus(t *testing.T) {
	c := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewEventBus(c)

	ch, err := bus.Subscribe(ctx, "events:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "events:resolved", []byte(`{"id":"1"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"1"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
