package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/kbparse/internal/models"
)

const (
	redisKeyPrefix  = "batchparse:"
	beginRetries    = 5
	defaultRedisTTL = 7 * 24 * time.Hour
)

// RedisRegistry shares batch records between service instances.
type RedisRegistry struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(rdb redis.UniversalClient, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func redisKey(kbID string) string { return redisKeyPrefix + kbID }

// Begin is a WATCH/MULTI check-and-set, retried when another writer races us.
func (r *RedisRegistry) Begin(ctx context.Context, kbID string, initial models.BatchTask) (bool, error) {
	key := redisKey(kbID)
	payload, err := sonic.Marshal(initial)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < beginRetries; attempt++ {
		stored := false
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, found, err := decodeTask(tx.Get(ctx, key))
			if err != nil {
				return err
			}
			if found && cur.Active() {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, r.ttl)
				return nil
			})
			if err == nil {
				stored = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("begin batch %s: %w", kbID, err)
		}
		return stored, nil
	}
	return false, fmt.Errorf("begin batch %s: too much contention", kbID)
}

func (r *RedisRegistry) Put(ctx context.Context, kbID string, task models.BatchTask) error {
	payload, err := sonic.Marshal(task)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, redisKey(kbID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store batch %s: %w", kbID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, kbID string) (models.BatchTask, bool, error) {
	task, found, err := decodeTask(r.rdb.Get(ctx, redisKey(kbID)))
	if err != nil {
		return models.BatchTask{}, false, fmt.Errorf("load batch %s: %w", kbID, err)
	}
	return task, found, nil
}

func decodeTask(cmd *redis.StringCmd) (models.BatchTask, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return models.BatchTask{}, false, nil
	}
	if err != nil {
		return models.BatchTask{}, false, err
	}
	var task models.BatchTask
	if err := sonic.Unmarshal(raw, &task); err != nil {
		return models.BatchTask{}, false, err
	}
	return task, true, nil
}
