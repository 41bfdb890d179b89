package bus

import (
	"context"

	"go.uber.org/zap"
)

// LookupsStream is the stream completed lookups are published to.
const LookupsStream = "lookups"

// Bus defines the interface for lookup event bus implementations
type Bus interface {
	// PublishLookup publishes a completed lookup to the lookups stream
	PublishLookup(ctx context.Context, msg LookupMessage) error

	// ReadLookupsStream consumes the lookups stream until ctx is done
	ReadLookupsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg LookupMessage) error) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL.
// If redisURL is empty or Redis is unreachable, returns a NullBus.
func NewBus(redisURL string, logger *zap.SugaredLogger) Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	logger.Warnw("redis unavailable, lookup events disabled", "error", err)
	return NewNullBus(logger)
}
