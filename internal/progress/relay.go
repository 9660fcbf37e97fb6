package progress

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// ChannelPrefix prefixes the pub/sub channel of each client.
const ChannelPrefix = "progress:"

// Relay publishes progress messages on a SignalBus so that whichever
// instance holds the client's stream can deliver them. Run must be started
// for messages to reach the local Registry.
type Relay struct {
	local  *Registry
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewRelay creates a Relay that delivers into local.
func NewRelay(local *Registry, bus domain.SignalBus, logger *slog.Logger) *Relay {
	return &Relay{
		local:  local,
		bus:    bus,
		logger: logger.With(slog.String("component", "progress_relay")),
	}
}

// Report publishes message for clientID. If the bus is unreachable the
// message is delivered locally instead.
func (r *Relay) Report(ctx context.Context, clientID, message string) {
	if clientID == "" {
		return
	}
	if err := r.bus.Publish(ctx, ChannelPrefix+clientID, []byte(message)); err != nil {
		r.logger.WarnContext(ctx, "progress publish failed, delivering locally",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		r.local.Report(ctx, clientID, message)
	}
}

// Run relays bus messages into the local Registry until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, ChannelPrefix+"*")
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "progress relay started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			clientID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			r.local.Report(ctx, clientID, string(msg.Payload))
		}
	}
}
