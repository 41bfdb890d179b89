package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultMaxLen bounds the lookups stream (approximate trimming).
const DefaultMaxLen = 10000

// ClaimMinIdle is how long another consumer's message must sit unacked before
// a starting reader takes it over.
var ClaimMinIdle = time.Minute

// RedisBus publishes lookup events to a Redis Stream
type RedisBus struct {
	client *redis.Client
	logger *zap.SugaredLogger
	maxLen int64
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// LookupMessage is the event emitted after every completed lookup.
type LookupMessage struct {
	LookupID  string `json:"lookup_id"`
	IOC       string `json:"ioc"`
	Type      string `json:"type"`
	Verdict   string `json:"verdict"`
	Score     int    `json:"score"`
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Timestamp int64  `json:"timestamp"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *zap.SugaredLogger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &RedisBus{
		client: client,
		logger: logger.With("component", "redis_bus"),
		maxLen: DefaultMaxLen,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishLookup publishes a lookup to the lookups stream
func (rb *RedisBus) PublishLookup(ctx context.Context, msg LookupMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	fields := map[string]interface{}{
		"lookup_id":  msg.LookupID,
		"ioc":        msg.IOC,
		"type":       msg.Type,
		"verdict":    msg.Verdict,
		"score":      msg.Score,
		"owner_type": msg.OwnerType,
		"owner_id":   msg.OwnerID,
		"timestamp":  msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: LookupsStream,
		MaxLen: rb.maxLen,
		Approx: true,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish lookup: %w", err)
	}

	rb.logger.Debugw("published lookup", "lookup_id", msg.LookupID, "stream_id", result.Val())
	return nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := rb.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
	}
	return nil
}

// ReadStream reads messages from a stream using consumer groups
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Infow("starting stream reader", "stream", stream, "group", group, "consumer", consumer)

	if err := rb.recoverPending(ctx, stream, group, consumer, handler); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rb.logger.Warnw("error recovering pending messages", "stream", stream, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    time.Second,
		})
		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Warnw("error reading stream", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, s := range result.Val() {
			rb.handleMessages(ctx, s.Stream, group, s.Messages, handler)
		}
	}
}

// recoverPending takes over messages other consumers left unacked for longer
// than ClaimMinIdle, then replays this consumer's pending entries once. A
// message whose handler fails again stays pending until the next start.
func (rb *RedisBus) recoverPending(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	start := "0-0"
	for {
		claimed, next, err := rb.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  ClaimMinIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to claim idle messages: %w", err)
		}
		if len(claimed) > 0 {
			rb.logger.Infow("claimed idle messages", "stream", stream, "count", len(claimed))
		}
		if next == "" || next == "0-0" || len(claimed) == 0 {
			break
		}
		start = next
	}

	last := "0"
	for {
		result, err := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, last},
			Count:    100,
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("failed to read pending messages: %w", err)
		}
		n := 0
		for _, s := range result {
			n += len(s.Messages)
			if len(s.Messages) > 0 {
				last = s.Messages[len(s.Messages)-1].ID
			}
			rb.handleMessages(ctx, s.Stream, group, s.Messages, handler)
		}
		if n == 0 {
			return nil
		}
	}
}

func (rb *RedisBus) handleMessages(ctx context.Context, stream, group string, messages []redis.XMessage, handler StreamHandler) {
	for _, message := range messages {
		streamMsg := StreamMessage{ID: message.ID, Fields: make(map[string]string, len(message.Values))}
		for key, value := range message.Values {
			if strValue, ok := value.(string); ok {
				streamMsg.Fields[key] = strValue
			}
		}

		if err := handler(ctx, streamMsg); err != nil {
			rb.logger.Warnw("message left pending; it is retried when a reader restarts", "id", message.ID, "error", err)
			continue
		}
		if err := rb.client.XAck(ctx, stream, group, message.ID).Err(); err != nil {
			rb.logger.Warnw("error acknowledging message", "id", message.ID, "error", err)
		}
	}
}

// ReadLookupsStream reads from the lookups stream
func (rb *RedisBus) ReadLookupsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg LookupMessage) error) error {
	return rb.ReadStream(ctx, LookupsStream, group, consumer, func(ctx context.Context, message StreamMessage) error {
		return handler(ctx, decodeLookup(message))
	})
}

func decodeLookup(message StreamMessage) LookupMessage {
	msg := LookupMessage{
		LookupID:  message.Fields["lookup_id"],
		IOC:       message.Fields["ioc"],
		Type:      message.Fields["type"],
		Verdict:   message.Fields["verdict"],
		OwnerType: message.Fields["owner_type"],
		OwnerID:   message.Fields["owner_id"],
	}
	if score, err := strconv.Atoi(message.Fields["score"]); err == nil {
		msg.Score = score
	}
	if ts, err := parseTimestamp(message.Fields["timestamp"]); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// parseTimestamp parses an epoch (seconds or milliseconds) or RFC3339 timestamp
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// 13+ digits means milliseconds
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the lookups stream
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	length, err := rb.client.XLen(ctx, LookupsStream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}
	stats["lookups_stream_length"] = length

	if groups, err := rb.client.XInfoGroups(ctx, LookupsStream).Result(); err == nil {
		stats["lookups_consumer_groups"] = len(groups)
	}
	return stats, nil
}
