package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bonus_service/internal/bonus"

	"github.com/redis/go-redis/v9"
)

const contributionKeyPrefix = "bonus:contribution:"

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ContributionCache stores resolved game contributions in Redis. Entries
// expire after ttl; overrides delete the key so the next lookup reads the
// database.
type ContributionCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewContributionCache(client redis.Cmdable, ttl time.Duration) *ContributionCache {
	return &ContributionCache{client: client, ttl: ttl}
}

func (c *ContributionCache) Get(ctx context.Context, gameID string) (*bonus.GameContribution, bool, error) {
	raw, err := c.client.Get(ctx, contributionKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get contribution: %w", err)
	}
	var row bonus.GameContribution
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, false, fmt.Errorf("decode cached contribution: %w", err)
	}
	return &row, true, nil
}

func (c *ContributionCache) Set(ctx context.Context, contribution *bonus.GameContribution) error {
	raw, err := json.Marshal(contribution)
	if err != nil {
		return fmt.Errorf("encode contribution: %w", err)
	}
	if err := c.client.Set(ctx, contributionKey(contribution.GameID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set contribution: %w", err)
	}
	return nil
}

func (c *ContributionCache) Invalidate(ctx context.Context, gameID string) error {
	if err := c.client.Del(ctx, contributionKey(gameID)).Err(); err != nil {
		return fmt.Errorf("redis del contribution: %w", err)
	}
	return nil
}

func contributionKey(gameID string) string {
	return contributionKeyPrefix + gameID
}
