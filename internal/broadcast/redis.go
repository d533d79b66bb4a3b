package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// envelope tags a relayed update with the process that produced it so a
// process does not deliver its own updates twice.
type envelope struct {
	Origin string `json:"origin"`
	Update Update `json:"update"`
}

// RedisPublisher fans updates out to other processes over a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisPublisher(client *redis.Client, channel, origin string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, origin: origin}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	raw, err := json.Marshal(envelope{Origin: p.origin, Update: u})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, raw).Err()
}

// RelayRedis forwards updates published by other processes to the hub's local
// observers until ctx is done.
func RelayRedis(ctx context.Context, client *redis.Client, channel, origin string, hub *Hub, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Info("relaying leaderboard updates", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("bad relay payload", "err", err)
				continue
			}
			if env.Origin == origin {
				continue
			}
			if err := hub.Publish(ctx, env.Update); err != nil {
				logger.Warn("relay publish failed", "err", err)
			}
		}
	}
}
