package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RelayChannel is the Redis pub/sub channel shared by all instances.
const RelayChannel = "jobchat:rooms"

type relayEnvelope struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay fans room events out across server instances over Redis pub/sub.
type RedisRelay struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisRelay(client *redis.Client, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, key RoomKey, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Room: key.String(), Payload: payload})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RelayChannel, data).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Listen subscribes to RelayChannel and hands every event to deliver until
// ctx is cancelled.
func (r *RedisRelay) Listen(ctx context.Context, deliver func(key RoomKey, payload []byte)) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info().Str("channel", RelayChannel).Msg("subscribed to relay channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, payload, err := decodeRelayMessage(msg.Payload)
			if err != nil {
				r.logger.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			deliver(key, payload)
		}
	}
}

func decodeRelayMessage(raw string) (RoomKey, []byte, error) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return RoomKey{}, nil, err
	}
	key, err := ParseRoomKey(env.Room)
	if err != nil {
		return RoomKey{}, nil, err
	}
	return key, env.Payload, nil
}
