package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/models"
)

// RedisPublisher sends device updates to every API instance through a redis
// pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PublishDeviceUpdate(ctx context.Context, update models.DeviceUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Bridge relays the redis channel into the local registry.
type Bridge struct {
	client   *redis.Client
	channel  string
	registry *Registry
	log      zerolog.Logger
}

func NewBridge(client *redis.Client, channel string, registry *Registry, log zerolog.Logger) *Bridge {
	return &Bridge{client: client, channel: channel, registry: registry, log: log}
}

// Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Msg("live bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay([]byte(msg.Payload))
		}
	}
}

// relay forwards only well formed updates.
func (b *Bridge) relay(payload []byte) {
	var update models.DeviceUpdate
	if err := json.Unmarshal(payload, &update); err != nil || update.ID == "" {
		b.log.Warn().Err(err).Msg("ignoring malformed live update")
		return
	}
	b.registry.Broadcast(payload)
}
