package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "chat:conversation:"

func Channel(conversationID string) string {
	return channelPrefix + conversationID
}

// Publisher fans a serialized frame out to every process holding members of
// the conversation.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, payload []byte) error
}

// LocalPublisher delivers straight to the in-process router. Used when no
// Redis is configured and the API runs as a single instance.
type LocalPublisher struct {
	router *Router
}

func NewLocalPublisher(router *Router) *LocalPublisher {
	return &LocalPublisher{router: router}
}

func (p *LocalPublisher) Publish(_ context.Context, conversationID string, payload []byte) error {
	p.router.Broadcast(conversationID, payload)
	return nil
}

type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, conversationID string, payload []byte) error {
	if err := p.client.Publish(ctx, Channel(conversationID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", conversationID, err)
	}
	return nil
}

// Bridge pattern-subscribes to every conversation channel and hands each
// message to the local router.
type Bridge struct {
	client redis.UniversalClient
	router *Router
}

func NewBridge(client redis.UniversalClient, router *Router) *Bridge {
	return &Bridge{client: client, router: router}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe chat channels: %w", err)
	}
	log.Info("realtime: redis bridge subscribed", "pattern", channelPrefix+"*")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			conversationID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if conversationID == "" || conversationID == msg.Channel {
				continue
			}
			b.router.Broadcast(conversationID, []byte(msg.Payload))
		}
	}
}
