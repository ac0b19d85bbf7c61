package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "voila:orgurl:"

// redisTier is a shared look-aside cache in front of the resolver hook.
// Errors never fail a resolution; they are logged and the tier is treated
// as a miss.
type redisTier struct {
	client *redis.Client
	log    *zap.Logger
}

type redisEntry struct {
	URL    string `json:"url"`
	Source Source `json:"source"`
}

func (t *redisTier) get(ctx context.Context, orgID string) (*entry, bool) {
	raw, err := t.client.Get(ctx, redisKeyPrefix+orgID).Result()
	if err != nil {
		if err != redis.Nil {
			t.log.Debug("redis tier get failed", zap.String("org", orgID), zap.Error(err))
		}
		return nil, false
	}

	var re redisEntry
	if err := json.Unmarshal([]byte(raw), &re); err != nil {
		t.log.Debug("redis tier entry corrupt", zap.String("org", orgID), zap.Error(err))
		return nil, false
	}

	ttl, err := t.client.TTL(ctx, redisKeyPrefix+orgID).Result()
	if err != nil || ttl <= 0 {
		ttl = fallbackTTL
	}
	return &entry{url: re.URL, source: re.Source, expiresAt: time.Now().Add(ttl)}, true
}

func (t *redisTier) set(ctx context.Context, orgID string, e *entry, ttl time.Duration) {
	raw, err := json.Marshal(redisEntry{URL: e.url, Source: e.source})
	if err != nil {
		return
	}
	if err := t.client.Set(ctx, redisKeyPrefix+orgID, raw, ttl).Err(); err != nil {
		t.log.Debug("redis tier set failed", zap.String("org", orgID), zap.Error(err))
	}
}

func (t *redisTier) del(ctx context.Context, orgID string) {
	if err := t.client.Del(ctx, redisKeyPrefix+orgID).Err(); err != nil {
		t.log.Debug("redis tier delete failed", zap.String("org", orgID), zap.Error(err))
	}
}
