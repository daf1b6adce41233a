package payment

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed gateway event ids in Redis so replayed
// webhooks can be acknowledged without touching the database. It is a
// fast path only: when Redis is down or the entry has expired, the
// state machine's no-op semantics still make the replay harmless.
type Dedup struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewDedup returns a Dedup over the given client, which may be nil
// when Redis is unavailable; all methods then degrade to misses.
func NewDedup(rdb *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Dedup{rdb: rdb, ttl: ttl, prefix: "gwevent:"}
}

// Seen reports whether the event id was already processed. Errors are
// logged and treated as a miss.
func (d *Dedup) Seen(ctx context.Context, eventID string) bool {
	if d == nil || d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		log.Printf("dedup: exists %s: %v", eventID, err)
		return false
	}
	return n > 0
}

// Mark records the event id after successful processing.
func (d *Dedup) Mark(ctx context.Context, eventID string) {
	if d == nil || d.rdb == nil {
		return
	}
	if err := d.rdb.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Err(); err != nil {
		log.Printf("dedup: mark %s: %v", eventID, err)
	}
}
