package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is an Assignment Ledger kept in Redis. SETNX gives the same
// first-committed-wins semantics as the SQL unique key.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps assignments forever
}

// NewRedisLedger connects to addr and verifies the connection.
func NewRedisLedger(ctx context.Context, addr string, ttl time.Duration) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		MaxRetries:      3,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storageErr("connect redis", err)
	}

	return &RedisLedger{client: client, prefix: "fnl:assignment:", ttl: ttl}, nil
}

func (l *RedisLedger) key(sessionKey string, experimentID int64) string {
	return fmt.Sprintf("%s%d:%s", l.prefix, experimentID, sessionKey)
}

func (l *RedisLedger) GetAssignment(ctx context.Context, sessionKey string, experimentID int64) (int64, bool, error) {
	val, err := l.client.Get(ctx, l.key(sessionKey, experimentID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("get assignment", err)
	}

	variantID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt assignment for %s: %w", l.key(sessionKey, experimentID), err)
	}
	return variantID, true, nil
}

func (l *RedisLedger) CreateAssignmentIfAbsent(ctx context.Context, sessionKey string, experimentID, variantID int64) (bool, error) {
	created, err := l.client.SetNX(ctx, l.key(sessionKey, experimentID), strconv.FormatInt(variantID, 10), l.ttl).Result()
	if err != nil {
		return false, storageErr("create assignment", err)
	}
	return created, nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
