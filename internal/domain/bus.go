package domain

import (
	"context"
)

// EventBus carries pipeline events between the API, the async worker,
// and external consumers. Implementations are in-process channels or
// NATS.
type EventBus interface {
	// Publish delivers payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic until the returned
	// Subscription is unsubscribed or the bus closes.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks for a single reply.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. Returning an error
// logs the failure; the bus does not redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every transport delivers.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and configures the bus transport.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the scoring pipeline.
const (
	TopicTransactionIngested = "sentinel.transaction.ingested"
	TopicVerdict             = "sentinel.verdict"
	TopicAlert               = "sentinel.alert"
)
