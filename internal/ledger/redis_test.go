package ledger

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	if exec.Command("docker", "info").Run() != nil {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCacheSplitDeduct(t *testing.T) {
	ctx := context.Background()
	cache := NewRedisCache(setupRedis(t))

	_, err := cache.Deduct(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Seed(ctx, 1, Balances{Main: 100, Tagged: 25}))
	// A second seed must not overwrite live balances.
	require.NoError(t, cache.Seed(ctx, 1, Balances{Main: 999}))

	split, err := cache.Deduct(ctx, 1, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(25), split.FromTagged)
	assert.Equal(t, int64(15), split.FromMain)
	assert.Equal(t, Balances{Main: 85, Tagged: 0}, split.After)

	_, err = cache.Deduct(ctx, 1, 86)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	b, err := cache.Adjust(ctx, 1, 15, 25)
	require.NoError(t, err)
	assert.Equal(t, Balances{Main: 100, Tagged: 25}, b)

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, err = cache.Balances(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheWithService(t *testing.T) {
	ctx := context.Background()
	durable := newFakeDurable()
	durable.put(3, 300, 0)
	svc := NewService(NewRedisCache(setupRedis(t)), durable, nil)

	_, err := svc.Deduct(ctx, 3, 100, TxMeta{Type: "bet"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, 3, 180, TxMeta{Type: "win"})
	require.NoError(t, err)

	b, err := svc.Balance(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(380), b.Main)
}
