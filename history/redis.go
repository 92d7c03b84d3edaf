package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisStore keeps session history in a Redis list, trimmed to a cap and
// expired by TTL. Useful when several sidecar instances share sessions.
type redisStore struct {
	client *redis.Client
	prefix string
	cap    int
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed Store. capPerSession defaults to 8,
// ttl to one hour.
func NewRedisStore(client *redis.Client, prefix string, capPerSession int, ttl time.Duration, logger *zap.Logger) Store {
	if prefix == "" {
		prefix = "blendai:history:"
	}
	if capPerSession <= 0 {
		capPerSession = 8
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{
		client: client,
		prefix: prefix,
		cap:    capPerSession,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "history")),
	}
}

func (s *redisStore) key(session string) string {
	return s.prefix + session
}

func (s *redisStore) Append(ctx context.Context, session string, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := s.key(session)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.cap), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("history append failed", zap.String("session", session), zap.Error(err))
		return fmt.Errorf("history append: %w", err)
	}
	return nil
}

func (s *redisStore) Recent(ctx context.Context, session string, n int) ([]Entry, error) {
	if n <= 0 || n > s.cap {
		n = s.cap
	}
	raw, err := s.client.LRange(ctx, s.key(session), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history recall: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip entries written by an incompatible version.
			s.logger.Warn("dropping undecodable history entry", zap.String("session", session))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
