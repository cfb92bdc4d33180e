package repositories_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ks-hl/snailpoints/internal/repositories"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBanRepository_BanAndCheck(t *testing.T) {
	_, client := newTestRedis(t)
	repo := repositories.NewRedisBanRepository(client)
	ctx := context.Background()

	banned, err := repo.IsBanned(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, repo.Ban(ctx, "203.0.113.10"))
	require.NoError(t, repo.Ban(ctx, "203.0.113.10"), "banning twice is harmless")

	banned, err = repo.IsBanned(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = repo.IsBanned(ctx, "203.0.113.11")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestRedisBanRepository_Unban(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := repositories.NewRedisBanRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Ban(ctx, "203.0.113.10"))
	members, err := mr.Members("snailpoints:banned")
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.10"}, members)

	require.NoError(t, repo.Unban(ctx, "203.0.113.10"))

	banned, err := repo.IsBanned(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestRedisBanRepository_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := repositories.NewRedisBanRepository(client)
	mr.SetError("LOADING redis is loading the dataset in memory")

	assert.Error(t, repo.Ban(context.Background(), "203.0.113.10"))
	_, err := repo.IsBanned(context.Background(), "203.0.113.10")
	assert.Error(t, err)
}
