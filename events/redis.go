package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "sealedvwap:events"

// Publisher is the subset of *redis.Client a RedisSink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  Publisher
	channel string
	logger  *zap.Logger
}

// NewRedisSink creates a sink. An empty channel means DefaultChannel.
func NewRedisSink(client Publisher, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, channel: channel, logger: logger}
}

// NewRedisClient builds the client for a RedisSink.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Emit publishes e as JSON. Failures are logged, not returned.
func (s *RedisSink) Emit(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to encode event", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("kind", string(e.Kind)),
			zap.Uint64("auction_id", e.AuctionID),
			zap.Error(err))
	}
}
