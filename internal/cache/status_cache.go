// Package cache keeps terminal check-in results in Redis so kiosks that
// poll the finish endpoint after completion are answered without another
// pass through the orchestrator.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stayos/roomkeys/internal/domain"
)

type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(url, password string, db int, ttl time.Duration) (*StatusCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db

	return &StatusCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

func key(checkinID string) string {
	return "checkin:finish:" + checkinID
}

func (c *StatusCache) GetFinish(ctx context.Context, checkinID string) (*domain.FinishCheckInRes, error) {
	raw, err := c.client.Get(ctx, key(checkinID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res domain.FinishCheckInRes
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *StatusCache) SetFinish(ctx context.Context, checkinID string, res *domain.FinishCheckInRes) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(checkinID), raw, c.ttl).Err()
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}
