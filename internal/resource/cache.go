package resource

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// queueKey is the scored set of cache keys pending reconciliation; the
// score is the epoch-millis instant the key becomes due.
const queueKey = "resource:queue"

var (
	cacheFields       = []string{"body", "created_at", "updated_at", "synced", "exists"}
	cacheFieldsNoBody = []string{"created_at", "updated_at", "synced", "exists"}
)

// cache is the Redis tier: one hash per resource plus the shared sync
// queue. Synced entries carry a TTL; dirty entries are pinned until the
// background sweep reconciles them.
type cache struct {
	rdb        *redis.Client
	expiration time.Duration
}

// get reads a cached result. Returns nil when the key is not cached.
func (c *cache) get(ctx context.Context, key string, withBody bool) (*result, error) {
	fields := cacheFieldsNoBody
	if withBody {
		fields = cacheFields
	}

	vals, err := c.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	present := make(map[string]string, len(fields))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			present[fields[i]] = s
		}
	}
	if len(present) == 0 {
		return nil, nil
	}

	createdAt, err := requireInt(key, present, "created_at")
	if err != nil {
		return nil, err
	}
	updatedAt, err := requireInt(key, present, "updated_at")
	if err != nil {
		return nil, err
	}
	synced, err := requireBool(key, present, "synced")
	if err != nil {
		return nil, err
	}
	exists, err := requireBool(key, present, "exists")
	if err != nil {
		return nil, err
	}

	return &result{
		Body:      present["body"],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Synced:    synced,
		Exists:    exists,
	}, nil
}

// put writes a result to the cache. The queue insertion must precede the
// hash write: a crash between the two leaves the key queued, never an
// unsynced hash outside the queue.
func (c *cache) put(ctx context.Context, key string, res *result, dueAt int64) error {
	err := c.rdb.ZAdd(ctx, queueKey, redis.Z{Score: float64(dueAt), Member: key}).Err()
	if err != nil {
		return fmt.Errorf("cache queue %s: %w", key, err)
	}

	if !res.Synced {
		if err := c.rdb.Persist(ctx, key).Err(); err != nil {
			return fmt.Errorf("cache persist %s: %w", key, err)
		}
	}

	err = c.rdb.HSet(ctx, key, map[string]interface{}{
		"body":       res.Body,
		"created_at": strconv.FormatInt(res.CreatedAt, 10),
		"updated_at": strconv.FormatInt(res.UpdatedAt, 10),
		"synced":     strconv.FormatBool(res.Synced),
		"exists":     strconv.FormatBool(res.Exists),
	}).Err()
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}

	if res.Synced {
		if err := c.rdb.Expire(ctx, key, c.expiration).Err(); err != nil {
			return fmt.Errorf("cache expire %s: %w", key, err)
		}
		if err := c.rdb.ZRem(ctx, queueKey, key).Err(); err != nil {
			return fmt.Errorf("cache dequeue %s: %w", key, err)
		}
	}
	return nil
}

// markSynced flags an entry as reconciled: synced=true, TTL set, queue
// entry removed.
func (c *cache) markSynced(ctx context.Context, key string) error {
	if err := c.rdb.HSet(ctx, key, "synced", "true").Err(); err != nil {
		return fmt.Errorf("cache mark synced %s: %w", key, err)
	}
	if err := c.rdb.Expire(ctx, key, c.expiration).Err(); err != nil {
		return fmt.Errorf("cache expire %s: %w", key, err)
	}
	if err := c.rdb.ZRem(ctx, queueKey, key).Err(); err != nil {
		return fmt.Errorf("cache dequeue %s: %w", key, err)
	}
	return nil
}

// expireIfNotSet applies the TTL only when the key has none.
func (c *cache) expireIfNotSet(ctx context.Context, key string) error {
	if err := c.rdb.ExpireNX(ctx, key, c.expiration).Err(); err != nil {
		return fmt.Errorf("cache expire %s: %w", key, err)
	}
	return nil
}

// removeFromQueue drops the key from the sync queue.
func (c *cache) removeFromQueue(ctx context.Context, key string) error {
	if err := c.rdb.ZRem(ctx, queueKey, key).Err(); err != nil {
		return fmt.Errorf("cache dequeue %s: %w", key, err)
	}
	return nil
}

// due returns up to batch keys whose score is at or before now,
// ascending.
func (c *cache) due(ctx context.Context, now int64, batch int) ([]string, error) {
	keys, err := c.rdb.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: int64(batch),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("cache due keys: %w", err)
	}
	return keys, nil
}

// queueDepth returns the number of keys pending reconciliation.
func (c *cache) queueDepth(ctx context.Context) (int64, error) {
	depth, err := c.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache queue depth: %w", err)
	}
	return depth, nil
}

func requireInt(key string, fields map[string]string, name string) (int64, error) {
	s, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("cache entry %s missing field %s", key, name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache entry %s field %s: %w", key, name, err)
	}
	return v, nil
}

func requireBool(key string, fields map[string]string, name string) (bool, error) {
	s, ok := fields[name]
	if !ok {
		return false, fmt.Errorf("cache entry %s missing field %s", key, name)
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("cache entry %s field %s: %w", key, name, err)
	}
	return v, nil
}
