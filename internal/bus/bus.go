package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrNoReplyTo is returned when replying to a message that was not sent
	// with Request.
	ErrNoReplyTo = errors.New("message has no reply address")
)

// New creates a new event bus based on configuration.
// The channel type serves a single process; the nats type serves a cluster.
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
