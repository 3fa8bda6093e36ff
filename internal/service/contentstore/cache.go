package contentstore

import (
	"context"
	"fmt"
	"shieldchat/internal/service/redis"
	"shieldchat/internal/utils/log"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

type (
	// BlobCache keys blobs by content reference. References are content
	// addresses, so entries never go stale; the TTL only bounds Redis memory.
	BlobCache struct {
		local        *lru.Cache
		redisService *redis.RedisService
		ttl          time.Duration
	}
)

func NewBlobCache(size int, redisSvc *redis.RedisService, ttl time.Duration) (*BlobCache, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &BlobCache{
		local:        local,
		redisService: redisSvc,
		ttl:          ttl,
	}, nil
}

func blobKey(ref string) string {
	return fmt.Sprintf("blob: %s", ref)
}

// Get reports which tier served the blob ("lru" or "redis"); "" on a miss.
func (c *BlobCache) Get(ctx context.Context, ref string) ([]byte, string) {
	if v, ok := c.local.Get(ref); ok {
		return v.([]byte), sourceLRU
	}
	if c.redisService == nil {
		return nil, ""
	}

	data, err := c.redisService.GetBytes(ctx, blobKey(ref))
	if err != nil {
		log.Warn("blob cache read failed", zap.String("contentRef", ref), zap.Error(err))
		return nil, ""
	}
	if data == nil {
		return nil, ""
	}
	c.local.Add(ref, data)
	return data, sourceRedis
}

func (c *BlobCache) Put(ctx context.Context, ref string, data []byte) {
	c.local.Add(ref, data)
	if c.redisService == nil {
		return
	}
	if err := c.redisService.Set(ctx, blobKey(ref), data, c.ttl); err != nil {
		log.Warn("blob cache write failed", zap.String("contentRef", ref), zap.Error(err))
	}
}
