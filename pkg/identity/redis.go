package identity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisMap - identity map в Redis.
//
// Redis-ключи:
//
//	HASH <prefix>:idmap:<kind>  field=<source_id> value=<target_id>
//
// Record использует HSETNX, поэтому существующее соответствие не перезаписывается.
type RedisMap struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisMap создает identity map поверх Redis клиента
func NewRedisMap(client redis.UniversalClient, prefix string) *RedisMap {
	if prefix == "" {
		prefix = "flarum"
	}
	return &RedisMap{client: client, prefix: prefix}
}

func (m *RedisMap) key(kind Kind) string {
	return fmt.Sprintf("%s:idmap:%s", m.prefix, kind)
}

// Resolve реализует Map
func (m *RedisMap) Resolve(ctx context.Context, kind Kind, sourceID string) (int64, bool, error) {
	if err := checkKind(kind); err != nil {
		return 0, false, err
	}

	val, err := m.client.HGet(ctx, m.key(kind), sourceID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "redis HGET %s %s", kind, sourceID)
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt identity %s %s=%q", kind, sourceID, val)
	}
	return id, true, nil
}

// Record реализует Map
func (m *RedisMap) Record(ctx context.Context, kind Kind, sourceID string, targetID int64) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}

	ok, err := m.client.HSetNX(ctx, m.key(kind), sourceID, strconv.FormatInt(targetID, 10)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis HSETNX %s %s", kind, sourceID)
	}
	return ok, nil
}

// Missing реализует Map
func (m *RedisMap) Missing(ctx context.Context, kind Kind, sourceIDs []string) ([]string, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	var missing []string
	for _, part := range chunk(sourceIDs, lookupChunk) {
		vals, err := m.client.HMGet(ctx, m.key(kind), part...).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis HMGET %s", kind)
		}
		for i, v := range vals {
			if v == nil {
				missing = append(missing, part[i])
			}
		}
	}
	return missing, nil
}

// Count возвращает количество соответствий для kind
func (m *RedisMap) Count(ctx context.Context, kind Kind) (int64, error) {
	n, err := m.client.HLen(ctx, m.key(kind)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "redis HLEN %s", kind)
	}
	return n, nil
}
