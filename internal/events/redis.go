// internal/events/redis.go
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/config"
)

// wireMessage is the payload published for downstream consumers (the
// recording and export pipeline subscribes per session).
type wireMessage struct {
	Type      schemas.EventType      `json:"type"`
	SessionID string                 `json:"session_id"`
	EventID   string                 `json:"event_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RedisSink publishes events to a per-session pub/sub channel and keeps a
// capped replay list so consumers joining late can catch up.
type RedisSink struct {
	client        redis.UniversalClient
	channelPrefix string
	historyLimit  int64
	logger        *zap.Logger
}

var _ schemas.EventSink = (*RedisSink)(nil)

// NewRedisSink connects to Redis using the configured URL.
func NewRedisSink(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (*RedisSink, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("events: redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return newRedisSink(client, cfg, logger), nil
}

func newRedisSink(client redis.UniversalClient, cfg config.EventsConfig, logger *zap.Logger) *RedisSink {
	prefix := cfg.RedisChannel
	if prefix == "" {
		prefix = "agent"
	}
	limit := int64(cfg.HistoryLimit)
	if limit <= 0 {
		limit = 200
	}
	return &RedisSink{
		client:        client,
		channelPrefix: prefix,
		historyLimit:  limit,
		logger:        logger.Named("redis_sink"),
	}
}

// Channel returns the pub/sub channel name for a session.
func (s *RedisSink) Channel(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.channelPrefix, sessionID)
}

// historyKey returns the replay list key for a session.
func (s *RedisSink) historyKey(sessionID string) string {
	return fmt.Sprintf("%s:history:%s", s.channelPrefix, sessionID)
}

// Emit publishes the event and appends it to the session's replay list,
// trimming the list to the configured limit.
func (s *RedisSink) Emit(ctx context.Context, event schemas.Event) error {
	payload, err := json.Marshal(wireMessage{
		Type:      event.Type,
		SessionID: event.SessionID,
		EventID:   event.ID,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	channel := s.Channel(event.SessionID)
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}

	key := s.historyKey(event.SessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -s.historyLimit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending event history: %w", err)
	}
	return nil
}

// History returns the replay list for a session, oldest first.
func (s *RedisSink) History(ctx context.Context, sessionID string) ([]schemas.Event, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading event history: %w", err)
	}
	out := make([]schemas.Event, 0, len(raw))
	for _, item := range raw {
		var msg wireMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("Skipping undecodable history entry.", zap.Error(err))
			continue
		}
		out = append(out, schemas.Event{
			ID:        msg.EventID,
			Type:      msg.Type,
			SessionID: msg.SessionID,
			Data:      msg.Data,
			Timestamp: msg.Timestamp,
		})
	}
	return out, nil
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
