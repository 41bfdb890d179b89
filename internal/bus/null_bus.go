package bus

import (
	"context"

	"go.uber.org/zap"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *zap.SugaredLogger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *zap.SugaredLogger) *NullBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &NullBus{logger: logger}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishLookup logs the lookup but doesn't actually publish it
func (nb *NullBus) PublishLookup(ctx context.Context, msg LookupMessage) error {
	nb.logger.Debugw("would publish lookup (redis disabled)", "lookup_id", msg.LookupID, "ioc", msg.IOC)
	return nil
}

// ReadLookupsStream blocks until ctx is cancelled since there is nothing to read.
func (nb *NullBus) ReadLookupsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg LookupMessage) error) error {
	nb.logger.Infow("would read lookups stream (redis disabled)", "group", group, "consumer", consumer)
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
