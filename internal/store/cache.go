package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leader-intake/internal/common/logger"
	"leader-intake/internal/models"

	"github.com/redis/go-redis/v9"
)

// SlotsCacheKey holds the JSON-encoded roster.
const SlotsCacheKey = "slots:all"

// CachedSlotStore serves ListAll from Redis and drops the cached roster after
// every write. Redis failures fall through to the wrapped store.
type CachedSlotStore struct {
	next   SlotStore
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedSlotStore(next SlotStore, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedSlotStore {
	return &CachedSlotStore{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "slot-cache"}),
	}
}

func (c *CachedSlotStore) Initialize(ctx context.Context, defaultAvatar string) ([]models.Slot, error) {
	slots, err := c.next.Initialize(ctx, defaultAvatar)
	if err == nil {
		c.invalidate(ctx)
	}
	return slots, err
}

func (c *CachedSlotStore) ListAll(ctx context.Context) ([]models.Slot, error) {
	cached, err := c.rdb.Get(ctx, SlotsCacheKey).Bytes()
	switch {
	case err == nil:
		var slots []models.Slot
		if jsonErr := json.Unmarshal(cached, &slots); jsonErr == nil {
			return slots, nil
		}
		c.logger.Warn("discarding undecodable cached roster", nil)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("slot cache read failed", map[string]interface{}{"error": err})
	}

	slots, err := c.next.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	// An uninitialized roster is not cached so the first Initialize is seen immediately.
	if len(slots) == 0 {
		return slots, nil
	}

	payload, err := json.Marshal(slots)
	if err != nil {
		return slots, nil
	}
	if err := c.rdb.Set(ctx, SlotsCacheKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", map[string]interface{}{"error": err})
	}
	return slots, nil
}

func (c *CachedSlotStore) Get(ctx context.Context, id string) (*models.Slot, error) {
	return c.next.Get(ctx, id)
}

func (c *CachedSlotStore) ClaimNextOpen(ctx context.Context) (*models.Slot, error) {
	return c.next.ClaimNextOpen(ctx)
}

// FillSlot invalidates even on failure: a failed fill may still have landed.
func (c *CachedSlotStore) FillSlot(ctx context.Context, id, occupantName, occupantRole, avatarReference string) (*models.Slot, error) {
	slot, err := c.next.FillSlot(ctx, id, occupantName, occupantRole, avatarReference)
	c.invalidate(ctx)
	return slot, err
}

func (c *CachedSlotStore) invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, SlotsCacheKey).Err(); err != nil {
		c.logger.Warn("slot cache invalidation failed", map[string]interface{}{"error": err})
	}
}
