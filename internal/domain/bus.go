package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (standalone) or NATS (cluster).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `json:"natsUrl" mapstructure:"nats_url"`
	NATSToken         string `json:"-" mapstructure:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names for the calculation pipeline.
const (
	TopicCalculationRequested = "riskcalc.calculation.requested"
	TopicCalculationCompleted = "riskcalc.calculation.completed"
	TopicResultSigned         = "riskcalc.result.signed"
	TopicCatalogReloaded      = "riskcalc.catalog.reloaded"
)
