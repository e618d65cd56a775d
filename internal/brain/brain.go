// Package brain turns captain trade intents into per-client demand packets.
//
// The brain subscribes to both intent channels, deduplicates by signal id,
// resolves the client roster, sizes every eligible client's share, groups the
// shares by exchange and routes the result: NORMAL demand goes straight to
// the fleet channel, RISKY demand goes to the smart entry engine for wave
// planning. The captain's settings can reroute risky flow at runtime
// (risky_mode off drops it, smart_entry off downgrades it to normal).
//
// Signal processing is strictly best effort. A malformed or invalid signal
// is logged and dropped; it never stalls the subscription loop.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"horus-core/internal/bus"
	"horus-core/internal/dedup"
	"horus-core/internal/registry"
	"horus-core/pkg/types"
)

// Brain is the signal resolver. Create with New, drive with Run.
type Brain struct {
	bus       bus.Bus
	registry  registry.Registry
	seen      *dedup.Set
	captainID string
	logger    *slog.Logger
}

// New creates a brain for one captain.
func New(b bus.Bus, reg registry.Registry, captainID string, logger *slog.Logger) *Brain {
	return &Brain{
		bus:       b,
		registry:  reg,
		seen:      dedup.NewSet(dedup.DefaultCapacity),
		captainID: captainID,
		logger:    logger.With("component", "brain"),
	}
}

// Run consumes both intent channels until ctx is cancelled.
func (b *Brain) Run(ctx context.Context) error {
	msgs, err := b.bus.Subscribe(ctx, bus.CaptainSignals, bus.BrainSignals)
	if err != nil {
		return fmt.Errorf("subscribe intent channels: %w", err)
	}
	b.logger.Info("brain running", "captain", b.captainID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.Handle(ctx, msg.Payload)
		}
	}
}

// Handle processes one raw intent payload. Exposed for tests and for the
// console path, which injects signals without going through the bus.
func (b *Brain) Handle(ctx context.Context, payload []byte) {
	var sig types.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		b.logger.Warn("malformed signal dropped", "error", err)
		return
	}
	if err := validate(sig); err != nil {
		b.logger.Warn("invalid signal dropped", "signal_id", sig.SignalID, "error", err)
		return
	}

	// Dedup before anything else: both intent channels may carry the same
	// signal, and the eye can replay fills after a reconnect.
	if b.seen.Seen(sig.SignalID) {
		b.logger.Debug("duplicate signal ignored", "signal_id", sig.SignalID)
		return
	}

	if sig.Action == types.CANCEL {
		// Cancellation of a market order that already hit the venue is not
		// possible; the id is recorded so a late replay stays a no-op.
		b.logger.Info("cancel noted", "signal_id", sig.SignalID)
		return
	}

	settings, err := b.registry.Settings(ctx, b.captainID)
	if err != nil {
		b.logger.Error("settings lookup failed, signal dropped", "signal_id", sig.SignalID, "error", err)
		return
	}

	risk := sig.Risk
	if risk == types.RiskRisky && !settings.RiskyMode {
		b.logger.Warn("risky mode disabled, signal dropped", "signal_id", sig.SignalID)
		return
	}
	if risk == types.RiskRisky && !settings.SmartEntry {
		// Wave planning is off: treat the signal as a plain entry.
		b.logger.Info("smart entry disabled, downgrading to normal", "signal_id", sig.SignalID)
		risk = types.RiskNormal
	}

	perExchange, err := b.resolveDemand(ctx, sig)
	if err != nil {
		b.logger.Error("roster resolution failed, signal dropped", "signal_id", sig.SignalID, "error", err)
		return
	}
	if len(perExchange) == 0 {
		b.logger.Warn("no eligible clients, signal dropped", "signal_id", sig.SignalID)
		return
	}

	if risk == types.RiskRisky {
		b.publishRisky(ctx, sig, perExchange)
		return
	}
	b.publishNormal(ctx, sig, perExchange)
}

// resolveDemand sizes each eligible client's share and groups by exchange.
// A client on an unknown exchange is skipped, not fatal.
func (b *Brain) resolveDemand(ctx context.Context, sig types.Signal) (map[types.Exchange]map[string]float64, error) {
	clients, err := b.registry.Clients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}

	out := make(map[types.Exchange]map[string]float64)
	for _, c := range clients {
		if !c.Eligible() {
			continue
		}
		if !c.Exchange.Known() {
			b.logger.Warn("client on unknown exchange skipped", "client", c.ClientID, "exchange", c.Exchange)
			continue
		}
		usd := c.BalanceUSDT * c.Allocation / 100
		if usd <= 0 {
			continue
		}
		if out[c.Exchange] == nil {
			out[c.Exchange] = make(map[string]float64)
		}
		out[c.Exchange][c.ClientID] = usd
	}
	return out, nil
}

func (b *Brain) publishNormal(ctx context.Context, sig types.Signal, perExchange map[types.Exchange]map[string]float64) {
	pkt := types.DemandPacket{
		Type:        types.PacketNormal,
		SignalID:    sig.SignalID,
		Symbol:      sig.Symbol,
		Action:      sig.Action,
		PerExchange: perExchange,
		Timestamp:   types.Now(),
	}
	if err := b.bus.Publish(ctx, bus.FleetCommand, pkt); err != nil {
		b.logger.Error("publish fleet command failed", "signal_id", sig.SignalID, "error", err)
		return
	}
	b.logger.Info("normal demand dispatched",
		"signal_id", sig.SignalID, "action", sig.Action, "exchanges", len(perExchange))
}

func (b *Brain) publishRisky(ctx context.Context, sig types.Signal, perExchange map[types.Exchange]map[string]float64) {
	demand := make(map[types.Exchange]types.ExchangeDemand, len(perExchange))
	for ex, clients := range perExchange {
		demand[ex] = types.ExchangeDemand{ClientDemands: clients, Exchange: ex}
	}
	pkt := types.DemandPacket{
		Type:      types.PacketRisky,
		SignalID:  sig.SignalID,
		Symbol:    sig.Symbol,
		Action:    sig.Action,
		Demand:    demand,
		Timestamp: types.Now(),
	}
	if err := b.bus.Publish(ctx, bus.SmartEntry, pkt); err != nil {
		b.logger.Error("publish smart entry demand failed", "signal_id", sig.SignalID, "error", err)
		return
	}
	b.logger.Info("risky demand sent to wave planner",
		"signal_id", sig.SignalID, "action", sig.Action, "exchanges", len(demand))
}

func validate(sig types.Signal) error {
	if sig.SignalID == "" {
		return fmt.Errorf("missing signal_id")
	}
	if sig.Symbol.IsZero() {
		return fmt.Errorf("missing symbol")
	}
	if !sig.Action.Valid() {
		return fmt.Errorf("unknown action %q", sig.Action)
	}
	if sig.Risk != types.RiskNormal && sig.Risk != types.RiskRisky {
		return fmt.Errorf("unknown risk %q", sig.Risk)
	}
	return nil
}
