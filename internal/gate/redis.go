package gate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"userprofile/internal/redis"
)

const (
	redisKeyPrefix = "gate:"
	// DefaultIdleTTL bounds how long an idle session keeps its counters.
	DefaultIdleTTL = 24 * time.Hour
)

// RedisGate shares counters between instances through a redis hash per session.
type RedisGate struct {
	client *redis.Client
	policy Policy
	ttl    time.Duration
}

func NewRedisGate(client *redis.Client, policy Policy, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &RedisGate{client: client, policy: policy, ttl: ttl}
}

func (g *RedisGate) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (g *RedisGate) RecordUpload(ctx context.Context, sessionID string, kind Kind) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if err := validKind(kind); err != nil {
		return err
	}
	if _, err := g.client.HIncrBy(ctx, g.key(sessionID), string(kind), 1, g.ttl); err != nil {
		return fmt.Errorf("gate record upload: %w", err)
	}
	return nil
}

func (g *RedisGate) Progress(ctx context.Context, sessionID string) (Progress, error) {
	if sessionID == "" {
		return Progress{}, ErrNoSession
	}
	fields, err := g.client.HGetAll(ctx, g.key(sessionID))
	if err != nil {
		return Progress{}, fmt.Errorf("gate progress: %w", err)
	}
	pictures, _ := strconv.Atoi(fields[string(KindPicture)])
	documents, _ := strconv.Atoi(fields[string(KindDocument)])
	return g.policy.Evaluate(pictures, documents), nil
}

func (g *RedisGate) IsSatisfied(ctx context.Context, sessionID string) (bool, error) {
	p, err := g.Progress(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return p.Satisfied, nil
}

func (g *RedisGate) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if err := g.client.Del(ctx, g.key(sessionID)); err != nil {
		return fmt.Errorf("gate reset: %w", err)
	}
	return nil
}
