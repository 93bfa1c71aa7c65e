package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"dmagent/internal/core"
	"dmagent/pkg/schema"
)

const (
	defaultRedisPrefix     = "dmagent"
	defaultInteractionKeep = 10000

	// farFuture scores index entries that never expire (2100-01-01).
	farFuture = 4102444800
)

// RedisOption configures the Redis adapters.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
	keep   int64
}

// WithPrefix sets the key prefix shared by sessions and interactions.
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets the expiration for sessions. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) { c.ttl = ttl }
}

// WithMaxInteractions caps how many interaction records are kept.
func WithMaxInteractions(n int64) RedisOption {
	return func(c *redisConfig) {
		if n > 0 {
			c.keep = n
		}
	}
}

func newRedisConfig(opts []RedisOption) redisConfig {
	cfg := redisConfig{prefix: defaultRedisPrefix, keep: defaultInteractionKeep}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRedisClient creates a client for addr.
func NewRedisClient(addr string) *backend.Client {
	return backend.NewClient(&backend.Options{Addr: addr})
}

// RedisSessionStore stores sessions as JSON values with a sorted-set index
// scored by expiry.
type RedisSessionStore struct {
	client *backend.Client
	cfg    redisConfig
}

// NewRedisSessionStore creates a session store from an existing client.
func NewRedisSessionStore(client *backend.Client, opts ...RedisOption) *RedisSessionStore {
	return &RedisSessionStore{client: client, cfg: newRedisConfig(opts)}
}

func (s *RedisSessionStore) key(id string) string {
	return s.cfg.prefix + ":session:" + id
}

func (s *RedisSessionStore) indexKey() string {
	return s.cfg.prefix + ":session:index"
}

func (s *RedisSessionStore) Save(ctx context.Context, state *core.SessionState) error {
	stored, err := prepare(state)
	if err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	score := float64(time.Now().Add(s.cfg.ttl).Unix())
	if s.cfg.ttl == 0 {
		score = farFuture
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(stored.ID), data, s.cfg.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: stored.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*core.SessionState, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	state := core.NewSessionState()
	if err := json.Unmarshal(val, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if state.DomainState == nil {
		state.DomainState = make(map[string]any)
	}
	return state, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	del := pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if del.Val() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List prunes expired index entries, then loads the remaining sessions.
func (s *RedisSessionStore) List(ctx context.Context) ([]SessionInfo, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		state, err := s.Load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, infoOf(state))
	}
	return out, nil
}

// RedisLog keeps interaction records in a capped list, newest first.
type RedisLog struct {
	client *backend.Client
	cfg    redisConfig
}

// NewRedisLog creates an interaction log from an existing client.
func NewRedisLog(client *backend.Client, opts ...RedisOption) *RedisLog {
	return &RedisLog{client: client, cfg: newRedisConfig(opts)}
}

func (l *RedisLog) key() string {
	return l.cfg.prefix + ":interactions"
}

// Append implements core.InteractionLog.
func (l *RedisLog) Append(ctx context.Context, rec schema.Interaction) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}

	pipe := l.client.Pipeline()
	pipe.LPush(ctx, l.key(), data)
	pipe.LTrim(ctx, l.key(), 0, l.cfg.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *RedisLog) Recent(ctx context.Context, limit int) ([]schema.Interaction, error) {
	if limit < 1 {
		return []schema.Interaction{}, nil
	}
	vals, err := l.client.LRange(ctx, l.key(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	out := make([]schema.Interaction, 0, len(vals))
	for _, v := range vals {
		var rec schema.Interaction
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
