// Package alert publishes operator notifications to the alerts channel.
//
// Every alert has a kind, and the captain can switch each kind off
// independently (or all of them via the master notifications toggle). The
// toggles live in the captain settings document and are re-read on every
// emit so a change takes effect immediately, without a restart.
//
// Alert delivery is best effort: a failed publish is logged and dropped,
// never allowed to interfere with trade dispatch.
package alert

import (
	"context"
	"log/slog"

	"horus-core/internal/bus"
	"horus-core/internal/registry"
	"horus-core/pkg/types"
)

// Kind names an alert category. Values match the wire protocol consumed by
// the operator console.
type Kind string

const (
	KindEntry      Kind = "entry"       // an order was placed for a client
	KindFail       Kind = "fail"        // an order failed for a client
	KindSpread     Kind = "spread"      // thin liquidity forced a size reduction
	KindSmart      Kind = "smart"       // a risky signal entered wave planning
	KindWave       Kind = "wave"        // a wave was dispatched
	KindNewClient  Kind = "new_client"  // a client joined the roster
	KindClientStop Kind = "client_stop" // a client left or was deactivated
)

// Event is the JSON payload published to the alerts channel.
type Event struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// Notifier emits alerts subject to the captain's notification settings.
type Notifier struct {
	bus       bus.Bus
	registry  registry.Registry
	captainID string
	logger    *slog.Logger
}

// NewNotifier creates a notifier for one captain.
func NewNotifier(b bus.Bus, reg registry.Registry, captainID string, logger *slog.Logger) *Notifier {
	return &Notifier{
		bus:       b,
		registry:  reg,
		captainID: captainID,
		logger:    logger.With("component", "alert"),
	}
}

// Emit publishes one alert unless the captain's settings suppress it.
func (n *Notifier) Emit(ctx context.Context, kind Kind, message string, data map[string]any) {
	settings, err := n.registry.Settings(ctx, n.captainID)
	if err != nil {
		// Settings unavailable: fall back to delivering everything rather
		// than silently losing operational alerts.
		n.logger.Warn("settings lookup failed, emitting unconditionally", "error", err)
		settings = types.DefaultSettings(n.captainID)
	}

	if !settings.Notifications || !kindEnabled(settings, kind) {
		n.logger.Debug("alert suppressed", "kind", kind)
		return
	}

	ev := Event{
		Kind:      kind,
		Message:   message,
		Data:      data,
		Timestamp: types.Now(),
	}
	if err := n.bus.Publish(ctx, bus.Alerts, ev); err != nil {
		n.logger.Warn("publish alert failed", "kind", kind, "error", err)
	}
}

func kindEnabled(s types.CaptainSettings, kind Kind) bool {
	switch kind {
	case KindEntry:
		return s.AlertEntry
	case KindFail:
		return s.AlertFail
	case KindSpread:
		return s.AlertSpread
	case KindSmart:
		return s.AlertSmart
	case KindWave:
		return s.AlertWave
	case KindNewClient:
		return s.AlertNewClient
	case KindClientStop:
		return s.AlertClientStop
	}
	// Unknown kinds pass through; better noisy than mute.
	return true
}
