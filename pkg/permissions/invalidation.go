package permissions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/peopleops/portal/pkg/observability"
)

// InvalidationChannel is the Redis pub/sub channel carrying cache
// invalidation messages between portal instances.
const InvalidationChannel = "portal:permissions:invalidate"

// Invalidation tells every instance to drop cached resolved sets. An empty
// UserID invalidates the whole tenant; an empty TenantID clears everything.
type Invalidation struct {
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// Bus distributes cache invalidations across portal instances
type Bus interface {
	// PublishInvalidation applies the invalidation locally and broadcasts
	// it to the other instances.
	PublishInvalidation(ctx context.Context, inv Invalidation) error

	Close() error
}

// LocalBus applies invalidations to the local cache only. Used when Redis
// is disabled, i.e. single-instance deployments.
type LocalBus struct {
	cache *ResolvedSetCache
}

// NewLocalBus creates a bus without cross-instance broadcast
func NewLocalBus(cache *ResolvedSetCache) *LocalBus {
	return &LocalBus{cache: cache}
}

// PublishInvalidation drops the affected local cache entries
func (b *LocalBus) PublishInvalidation(ctx context.Context, inv Invalidation) error {
	applyInvalidation(b.cache, inv)
	return nil
}

// Close is a no-op for the local bus
func (b *LocalBus) Close() error { return nil }

// RedisBus broadcasts invalidations over Redis pub/sub so that every
// instance drops its stale cache entries, not just the one that handled
// the mutation.
type RedisBus struct {
	client *redis.Client
	cache  *ResolvedSetCache
	logger *observability.Logger
	pubsub *redis.PubSub
}

// NewRedisBus creates a bus backed by the given Redis client
func NewRedisBus(client *redis.Client, cache *ResolvedSetCache, logger *observability.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		cache:  cache,
		logger: logger,
	}
}

// Start subscribes to the invalidation channel and applies incoming
// messages to the local cache until ctx is done.
func (b *RedisBus) Start(ctx context.Context) error {
	b.pubsub = b.client.Subscribe(ctx, InvalidationChannel)

	// Force the subscription before returning so no message is missed.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidationChannel, err)
	}

	ch := b.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					b.logger.WithError(err).Warn("dropping malformed invalidation message")
					continue
				}
				applyInvalidation(b.cache, inv)
				b.logger.WithFields(map[string]interface{}{
					"tenant_id": inv.TenantID,
					"user_id":   inv.UserID,
				}).Debug("applied cache invalidation")
			}
		}
	}()

	return nil
}

// PublishInvalidation applies the invalidation locally, then broadcasts it.
// The local apply happens first so the publishing instance never serves a
// stale set even if Redis is down.
func (b *RedisBus) PublishInvalidation(ctx context.Context, inv Invalidation) error {
	applyInvalidation(b.cache, inv)

	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Close stops the subscription
func (b *RedisBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func applyInvalidation(cache *ResolvedSetCache, inv Invalidation) {
	switch {
	case inv.TenantID == "":
		cache.Clear()
	case inv.UserID == "":
		cache.InvalidateTenant(inv.TenantID)
	default:
		cache.Invalidate(inv.UserID, inv.TenantID)
	}
}
