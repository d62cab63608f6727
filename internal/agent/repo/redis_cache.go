package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// RedisClassificationCache shares definitive classifications across workers.
type RedisClassificationCache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisClassificationCache(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisClassificationCache {
	if prefix == "" {
		prefix = "advisor"
	}
	return &RedisClassificationCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// classificationKey hashes the exact query text; queries are never stored in clear.
func (r *RedisClassificationCache) classificationKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s:classification:%s", r.prefix, hex.EncodeToString(sum[:]))
}

func (r *RedisClassificationCache) Get(ctx context.Context, query string) (*model.ClassificationResult, error) {
	key := r.classificationKey(query)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load classification from redis")
		return nil, errx.WrapRedis(err)
	}

	var res model.ClassificationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("dropping undecodable classification entry")
		_ = r.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &res, nil
}

func (r *RedisClassificationCache) Set(ctx context.Context, query string, result model.ClassificationResult) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	key := r.classificationKey(query)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to store classification in redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Clear removes every shared classification under the prefix.
func (r *RedisClassificationCache) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := r.prefix + ":classification:*"
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, errx.WrapRedis(err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, errx.WrapRedis(err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

var _ model.ClassificationCacheStore = (*RedisClassificationCache)(nil)
