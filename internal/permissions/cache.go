package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey   = "permissions:version"
	snapshotKeyPrefix = "permissions:snapshot"
	// BumpChannel carries the new cache version after every refresh.
	BumpChannel = "permissions.bump"
)

// Cache keeps the expanded permission snapshot in Redis under a versioned
// key. Bump moves every reader to a new key and notifies other processes.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
		return 0, err
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *Cache) snapshotKey(ctx context.Context) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", snapshotKeyPrefix, ver), nil
}

// FetchSnapshot returns the cached snapshot or populates it with loader.
// The bool reports a cache hit.
func (c *Cache) FetchSnapshot(ctx context.Context, loader func(context.Context) (Snapshot, error)) (Snapshot, bool, error) {
	if loader == nil {
		return Snapshot{}, false, errors.New("permissions cache: loader required")
	}
	if c == nil || c.client == nil {
		snap, err := loader(ctx)
		return snap, false, err
	}
	key, err := c.snapshotKey(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, true, nil
		}
		c.logger.Warn("discard undecodable permission snapshot", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		return Snapshot{}, false, err
	}
	snap, err := loader(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, false, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("store permission snapshot", slog.Any("error", err))
	}
	return snap, false, nil
}

// Bump invalidates the cache by incrementing the version and publishing it.
func (c *Cache) Bump(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// ListenForInvalidation subscribes to bump notifications and calls onBump
// with each announced version until ctx is cancelled.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("ignore malformed permission bump", slog.String("payload", msg.Payload))
					continue
				}
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
