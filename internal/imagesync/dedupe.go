package imagesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims a delivery key for a TTL. Claim reports false when the key
// is already held.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

var eventTypes = []string{EventInsert, EventUpdate, EventDelete}

// DeliveryKey identifies a delivery by event type and object. Redelivering
// the same change maps to the same key.
func DeliveryKey(event Event) string {
	return deliveryKey(strings.ToUpper(event.Type), event.Object())
}

// supersededKeys are the claims a processed event invalidates: any other
// change to the same object. An upload after a delete must sync again even
// though its body matches the first upload.
func supersededKeys(event Event) []string {
	current := strings.ToUpper(event.Type)
	keys := make([]string, 0, len(eventTypes)-1)
	for _, eventType := range eventTypes {
		if eventType != current {
			keys = append(keys, deliveryKey(eventType, event.Object()))
		}
	}
	return keys
}

func deliveryKey(eventType string, object *ObjectRecord) string {
	var bucket, name string
	if object != nil {
		bucket, name = object.BucketID, object.Name
	}
	sum := sha256.Sum256([]byte(bucket + "/" + name))
	return eventType + ":" + hex.EncodeToString(sum[:])
}

type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "imagesync:delivery:"}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}

type MemoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, expires := range d.entries {
		if !now.Before(expires) {
			delete(d.entries, k)
		}
	}
	if _, held := d.entries[key]; held {
		return false, nil
	}
	d.entries[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
	return nil
}
