package activity

import (
	"context"

	"github.com/starford/guardian/internal/sse"
)

// BrokerLogger broadcasts events to SSE subscribers.
type BrokerLogger struct {
	broker *sse.Broker
}

// NewBrokerLogger returns a Logger that publishes to broker.
func NewBrokerLogger(broker *sse.Broker) *BrokerLogger {
	return &BrokerLogger{broker: broker}
}

// Log implements Logger.
func (b *BrokerLogger) Log(_ context.Context, actor, event string, payload map[string]any) {
	b.broker.PublishActivity(actor, event, payload)
}
