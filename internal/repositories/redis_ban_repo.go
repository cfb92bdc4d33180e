package repositories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultBanSetKey = "snailpoints:banned"

// RedisBanRepository keeps banned addresses in a redis set
type RedisBanRepository struct {
	client *redis.Client
	key    string
}

func NewRedisBanRepository(client *redis.Client) *RedisBanRepository {
	return &RedisBanRepository{client: client, key: defaultBanSetKey}
}

func (r *RedisBanRepository) Ban(ctx context.Context, address string) error {
	if err := r.client.SAdd(ctx, r.key, address).Err(); err != nil {
		return fmt.Errorf("failed to ban address: %w", err)
	}
	return nil
}

func (r *RedisBanRepository) IsBanned(ctx context.Context, address string) (bool, error) {
	banned, err := r.client.SIsMember(ctx, r.key, address).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ban: %w", err)
	}
	return banned, nil
}

func (r *RedisBanRepository) Unban(ctx context.Context, address string) error {
	if err := r.client.SRem(ctx, r.key, address).Err(); err != nil {
		return fmt.Errorf("failed to unban address: %w", err)
	}
	return nil
}
