package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"locshare.org/internal/location"
	"locshare.org/internal/obs"
)

// ChannelPrefix prefixes the per-user Redis channels.
const ChannelPrefix = "locshare:current:"

// RedisConfig describes the relay's Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisRelay mirrors hub publications across service replicas through Redis
// pub/sub. Messages published by this instance are ignored on receipt.
type RedisRelay struct {
	rdb      redis.UniversalClient
	hub      *Hub
	instance string
	timeout  time.Duration
}

type relayMessage struct {
	Origin string           `json:"origin"`
	UserID string           `json:"user_id"`
	Sample *location.Sample `json:"sample"`
}

// NewRedisClient opens a client for cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisRelay attaches a relay to hub. Call Run to start receiving.
func NewRedisRelay(rdb redis.UniversalClient, hub *Hub) *RedisRelay {
	r := &RedisRelay{
		rdb:      rdb,
		hub:      hub,
		instance: uuid.NewString(),
		timeout:  2 * time.Second,
	}
	hub.SetForwarder(r.forward)
	return r
}

// Instance returns the id stamped on outgoing messages.
func (r *RedisRelay) Instance() string { return r.instance }

func (r *RedisRelay) forward(userID string, s *location.Sample) {
	payload, err := r.encode(userID, s)
	if err != nil {
		obs.Logger().Error("relay_encode_failed", "user_id", userID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, ChannelPrefix+userID, payload).Err(); err != nil {
		obs.Logger().Warn("relay_publish_failed", "user_id", userID, "error", err)
	}
}

func (r *RedisRelay) encode(userID string, s *location.Sample) ([]byte, error) {
	return json.Marshal(relayMessage{Origin: r.instance, UserID: userID, Sample: s})
}

// handle decodes a relayed payload and delivers it locally.
// It reports whether the message was delivered.
func (r *RedisRelay) handle(channel, payload string) (bool, error) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return false, fmt.Errorf("decode relay message: %w", err)
	}
	if msg.Origin == r.instance {
		return false, nil
	}
	userID := strings.TrimPrefix(channel, ChannelPrefix)
	if msg.UserID != "" && msg.UserID != userID {
		return false, fmt.Errorf("relay message for %q on channel %q", msg.UserID, channel)
	}
	r.hub.Deliver(userID, msg.Sample)
	return true, nil
}

// Run receives relayed publications until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay channels: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := r.handle(msg.Channel, msg.Payload); err != nil {
				obs.Logger().Warn("relay_message_dropped", "channel", msg.Channel, "error", err)
			}
		}
	}
}

// Close detaches the relay from the hub.
func (r *RedisRelay) Close() {
	r.hub.SetForwarder(nil)
}
