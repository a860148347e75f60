// Package bus provides the event transports behind domain.EventBus:
// an in-process channel bus for single-node deployments and tests,
// and a NATS bus for distributed ones.
package bus

import (
	"fmt"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// New selects a transport by cfg.Type ("channel" or "nats").
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
