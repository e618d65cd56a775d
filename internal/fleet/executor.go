// Package fleet fans execution packets out to per-client market orders.
//
// The executor consumes the fleet-command channel, which carries two packet
// shapes: NORMAL demand packets straight from the brain and SMART_WAVE
// packets from the wave planner. Either way the work is the same: for every
// referenced client, look up its credentials, build a soldier and fire the
// order. Clients are fully isolated; one rejection never touches the
// others. A weighted semaphore caps in-flight exchange calls so a large
// roster cannot trip venue rate limits all at once.
//
// Every outcome is journaled and surfaced as an entry or fail alert.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"horus-core/internal/alert"
	"horus-core/internal/bus"
	"horus-core/internal/registry"
	"horus-core/internal/soldier"
	"horus-core/pkg/types"
)

// ExecJournal records per-client outcomes. Satisfied by *store.Store.
type ExecJournal interface {
	RecordExecution(types.ExecutionResult) error
}

// SoldierFactory builds the executing soldier for a client. Tests swap this
// for a stub; production uses soldier.New with a shared gateway.
type SoldierFactory func(client types.Client) (soldier.Soldier, error)

// Config tunes the executor.
type Config struct {
	MaxConcurrent int64 // cap on in-flight exchange calls per packet
}

// Executor consumes execution packets and runs the per-client fan-out.
type Executor struct {
	bus      bus.Bus
	registry registry.Registry
	soldiers SoldierFactory
	journal  ExecJournal
	notifier *alert.Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates an executor.
func New(b bus.Bus, reg registry.Registry, soldiers SoldierFactory, journal ExecJournal, notifier *alert.Notifier, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	return &Executor{
		bus:      b,
		registry: reg,
		soldiers: soldiers,
		journal:  journal,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "fleet"),
	}
}

// Run consumes the fleet-command channel until ctx is cancelled.
func (x *Executor) Run(ctx context.Context) error {
	msgs, err := x.bus.Subscribe(ctx, bus.FleetCommand)
	if err != nil {
		return fmt.Errorf("subscribe fleet command: %w", err)
	}
	x.logger.Info("fleet executor running", "max_concurrent", x.cfg.MaxConcurrent)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			x.Handle(ctx, msg.Payload)
		}
	}
}

// job is one client's share of a packet.
type job struct {
	clientID string
	exchange types.Exchange
	usd      float64
}

// Handle processes one raw fleet-command payload.
func (x *Executor) Handle(ctx context.Context, payload []byte) {
	var head struct {
		Type types.PacketType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		x.logger.Warn("malformed packet dropped", "error", err)
		return
	}

	switch head.Type {
	case types.PacketNormal:
		var pkt types.DemandPacket
		if err := json.Unmarshal(payload, &pkt); err != nil {
			x.logger.Warn("malformed demand packet dropped", "error", err)
			return
		}
		var jobs []job
		for ex, clients := range pkt.PerExchange {
			for id, usd := range clients {
				jobs = append(jobs, job{clientID: id, exchange: ex, usd: usd})
			}
		}
		x.execute(ctx, pkt.SignalID, pkt.Symbol, pkt.Action, jobs)

	case types.PacketWave:
		var pkt types.WavePacket
		if err := json.Unmarshal(payload, &pkt); err != nil {
			x.logger.Warn("malformed wave packet dropped", "error", err)
			return
		}
		var jobs []job
		for id, usd := range pkt.PerClient {
			jobs = append(jobs, job{clientID: id, exchange: pkt.Exchange, usd: usd})
		}
		x.execute(ctx, pkt.SignalID, pkt.Symbol, pkt.Action, jobs)

	default:
		x.logger.Warn("unexpected packet type on fleet channel", "type", head.Type)
	}
}

// execute runs the fan-out for one packet.
func (x *Executor) execute(ctx context.Context, signalID string, sym types.Symbol, action types.Action, jobs []job) {
	if len(jobs) == 0 {
		x.logger.Warn("packet with no work", "signal_id", signalID)
		return
	}
	x.logger.Info("executing packet",
		"signal_id", signalID, "action", action, "symbol", sym, "clients", len(jobs))

	sem := semaphore.NewWeighted(x.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, j := range jobs {
		if action != types.CLOSE && j.usd <= 0 {
			x.logger.Debug("zero-amount job skipped", "signal_id", signalID, "client", j.clientID)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer sem.Release(1)
			res := x.dispatch(ctx, sym, action, j)
			x.report(ctx, signalID, res)
		}(j)
	}
	wg.Wait()
}

// dispatch runs one client's order and returns the outcome.
func (x *Executor) dispatch(ctx context.Context, sym types.Symbol, action types.Action, j job) types.ExecutionResult {
	failed := func(reason string) types.ExecutionResult {
		return types.ExecutionResult{
			ClientID: j.clientID,
			Symbol:   sym,
			Amount:   j.usd,
			Exchange: j.exchange,
			Status:   types.StatusFailed,
			Reason:   reason,
			Time:     time.Now().UTC(),
		}
	}

	client, err := x.registry.Client(ctx, j.clientID)
	if err != nil {
		return failed(fmt.Sprintf("client lookup: %v", err))
	}
	if !client.Eligible() {
		// Roster changed between resolution and execution.
		return failed("client no longer eligible")
	}

	s, err := x.soldiers(client)
	if err != nil {
		return failed(fmt.Sprintf("soldier: %v", err))
	}

	switch action {
	case types.BUY:
		return s.Buy(ctx, sym, j.usd)
	case types.SELL:
		return s.Sell(ctx, sym, j.usd)
	case types.CLOSE:
		return s.Close(ctx, sym)
	}
	return failed(fmt.Sprintf("unexecutable action %q", action))
}

// report journals the result and emits the matching alert.
func (x *Executor) report(ctx context.Context, signalID string, res types.ExecutionResult) {
	if err := x.journal.RecordExecution(res); err != nil {
		x.logger.Warn("journal execution failed", "client", res.ClientID, "error", err)
	}

	data := map[string]any{
		"signal_id": signalID,
		"client":    res.ClientID,
		"exchange":  string(res.Exchange),
		"amount":    res.Amount,
	}
	if res.Status == types.StatusFailed {
		data["reason"] = res.Reason
		x.notifier.Emit(ctx, alert.KindFail,
			fmt.Sprintf("order failed for %s on %s: %s", res.ClientID, res.Exchange, res.Reason), data)
		x.logger.Warn("order failed",
			"signal_id", signalID, "client", res.ClientID, "exchange", res.Exchange, "reason", res.Reason)
		return
	}

	x.notifier.Emit(ctx, alert.KindEntry,
		fmt.Sprintf("order executed for %s on %s", res.ClientID, res.Exchange), data)
	x.logger.Info("order executed",
		"signal_id", signalID, "client", res.ClientID, "exchange", res.Exchange,
		"amount", res.Amount, "reason", res.Reason)
}
