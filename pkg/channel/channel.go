package channel

import (
	"context"

	"texclaw/pkg/bus"
)

// Handler processes one inbound channel message and returns the outbound reply
// after outbound hooks have run.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the gateway.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
