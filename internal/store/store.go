// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoEntry is returned by LPop when the list is empty.
var ErrNoEntry = errors.New("store: no entry")

// Store is the shared-state seam the match core runs on. It covers the six
// Redis primitives the service needs: hash records with field-level writes
// and TTL, set membership, FIFO lists, pub/sub channels, and the server
// clock. A Redis-backed implementation is used in production; the in-memory
// implementation backs tests.
type Store interface {
	// HSet writes all given fields to the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HSetField writes a single field, leaving the rest of the hash alone.
	HSetField(ctx context.Context, key, field, value string) error
	// HGetAll returns every field of the hash, or an empty map if the key
	// does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// Expire sets a TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// RPush appends values to the tail of the list at key.
	RPush(ctx context.Context, key string, values ...string) error
	// LPop removes and returns the head of the list, or ErrNoEntry.
	LPop(ctx context.Context, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)
	// LRem removes all occurrences of value from the list.
	LRem(ctx context.Context, key, value string) error

	Publish(ctx context.Context, channel, payload string) error
	// Subscribe opens a subscription on channel. The caller must Close it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Time returns the store server's clock, so IDs derived from it are
	// consistent across processes regardless of local clock skew.
	Time(ctx context.Context) (time.Time, error)
}

// Subscription is a live pub/sub subscription.
type Subscription interface {
	// Messages yields payloads published on the channel. It is closed when
	// the subscription is closed.
	Messages() <-chan string
	Close() error
}
