// Package smartentry plans liquidity-aware wave execution for risky demand.
//
// For each risky demand packet the engine fetches the ask ladder on every
// involved exchange, measures how hard the demand total would hit the
// near-touch liquidity, and splits the entry into 1..4 front-loaded waves.
// Demand that exceeds the +1% liquidity is scaled down rather than allowed
// to walk the book. Exchanges whose book cannot be fetched are skipped; the
// rest of the packet still executes.
package smartentry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"horus-core/internal/alert"
	"horus-core/internal/bus"
	"horus-core/internal/store"
	"horus-core/pkg/types"
)

// WaveJournal records dispatched waves. Satisfied by *store.Store.
type WaveJournal interface {
	RecordWave(store.WaveRecord) error
}

// Config tunes the engine.
type Config struct {
	BookDepth int           // ask-ladder depth requested per exchange
	WaveDelay time.Duration // pause between waves on one exchange; 0 disables pacing
}

// Engine consumes risky demand packets and emits wave packets.
type Engine struct {
	bus      bus.Bus
	books    BookFetcher
	notifier *alert.Notifier
	journal  WaveJournal
	cfg      Config
	logger   *slog.Logger
}

// New creates an engine.
func New(b bus.Bus, books BookFetcher, notifier *alert.Notifier, journal WaveJournal, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		bus:      b,
		books:    books,
		notifier: notifier,
		journal:  journal,
		cfg:      cfg,
		logger:   logger.With("component", "smart_entry"),
	}
}

// Run consumes the smart entry channel until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	msgs, err := e.bus.Subscribe(ctx, bus.SmartEntry)
	if err != nil {
		return fmt.Errorf("subscribe smart entry: %w", err)
	}
	e.logger.Info("smart entry engine running", "book_depth", e.cfg.BookDepth, "wave_delay", e.cfg.WaveDelay)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var pkt types.DemandPacket
			if err := json.Unmarshal(msg.Payload, &pkt); err != nil {
				e.logger.Warn("malformed demand packet dropped", "error", err)
				continue
			}
			if pkt.Type != types.PacketRisky {
				e.logger.Warn("unexpected packet type on smart entry channel", "type", pkt.Type)
				continue
			}
			e.Plan(ctx, pkt)
		}
	}
}

// exchangePlan is one exchange's resolved wave layout.
type exchangePlan struct {
	exchange types.Exchange
	demands  map[string]float64
	total    float64
	liq      Liquidity
	waves    int
	weights  []float64
}

// Plan fetches books, sizes the waves and dispatches them. Waves are emitted
// in (exchange, wave index) order, with the configured delay between the
// waves of a single exchange.
func (e *Engine) Plan(ctx context.Context, pkt types.DemandPacket) {
	e.notifier.Emit(ctx, alert.KindSmart, fmt.Sprintf("wave planning %s %s", pkt.Action, pkt.Symbol),
		map[string]any{"signal_id": pkt.SignalID, "exchanges": len(pkt.Demand)})

	plans := e.buildPlans(ctx, pkt)
	if len(plans) == 0 {
		e.logger.Warn("no executable exchanges, packet dropped", "signal_id", pkt.SignalID)
		return
	}

	for _, p := range plans {
		for i := 1; i <= p.waves; i++ {
			if i > 1 && e.cfg.WaveDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.WaveDelay):
				}
			}
			e.dispatchWave(ctx, pkt, p, i)
		}
	}
}

// buildPlans fetches all books concurrently and computes each exchange's
// layout. Exchanges come back sorted for deterministic emission order.
func (e *Engine) buildPlans(ctx context.Context, pkt types.DemandPacket) []exchangePlan {
	type fetched struct {
		ex   types.Exchange
		asks []Level
		err  error
	}

	results := make([]fetched, 0, len(pkt.Demand))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for ex := range pkt.Demand {
		wg.Add(1)
		go func(ex types.Exchange) {
			defer wg.Done()
			asks, err := e.books.Asks(ctx, ex, pkt.Symbol, e.cfg.BookDepth)
			mu.Lock()
			results = append(results, fetched{ex: ex, asks: asks, err: err})
			mu.Unlock()
		}(ex)
	}
	wg.Wait()

	var plans []exchangePlan
	for _, r := range results {
		if r.err != nil {
			e.logger.Warn("book fetch failed, exchange skipped",
				"signal_id", pkt.SignalID, "exchange", r.ex, "error", r.err)
			continue
		}

		demands := pkt.Demand[r.ex].ClientDemands
		var total float64
		for _, usd := range demands {
			total += usd
		}
		if total <= 0 {
			continue
		}

		liq := ComputeLiquidity(r.asks, total)
		if liq.Reduction <= 0 {
			e.logger.Warn("no near-touch liquidity, exchange skipped",
				"signal_id", pkt.SignalID, "exchange", r.ex)
			continue
		}
		if liq.Reduction < 1 {
			e.notifier.Emit(ctx, alert.KindSpread,
				fmt.Sprintf("thin book on %s: sizing down to %.0f%%", r.ex, liq.Reduction*100),
				map[string]any{
					"signal_id": pkt.SignalID,
					"exchange":  string(r.ex),
					"reduction": liq.Reduction,
					"wcf":       liq.WCF,
				})
		}

		waves := WaveCount(liq.WCF)
		plans = append(plans, exchangePlan{
			exchange: r.ex,
			demands:  demands,
			total:    total,
			liq:      liq,
			waves:    waves,
			weights:  WaveWeights(waves),
		})
		e.logger.Info("exchange plan built",
			"signal_id", pkt.SignalID, "exchange", r.ex,
			"total_usd", total, "wcf", liq.WCF, "waves", waves, "reduction", liq.Reduction)
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].exchange < plans[j].exchange })
	return plans
}

func (e *Engine) dispatchWave(ctx context.Context, pkt types.DemandPacket, p exchangePlan, wave int) {
	weight := p.weights[wave-1]
	perClient := make(map[string]float64, len(p.demands))
	var waveTotal float64
	for id, usd := range p.demands {
		amount := usd * p.liq.Reduction * weight
		if amount <= 0 {
			continue
		}
		perClient[id] = amount
		waveTotal += amount
	}
	if len(perClient) == 0 {
		return
	}

	wp := types.WavePacket{
		Type:      types.PacketWave,
		SignalID:  types.WaveID(pkt.SignalID, wave, p.exchange),
		Parent:    pkt.SignalID,
		Symbol:    pkt.Symbol,
		Action:    pkt.Action,
		Exchange:  p.exchange,
		WaveIndex: wave,
		PerClient: perClient,
		Timestamp: types.Now(),
	}
	if err := e.bus.Publish(ctx, bus.FleetCommand, wp); err != nil {
		e.logger.Error("publish wave failed", "signal_id", wp.SignalID, "error", err)
		return
	}

	if err := e.journal.RecordWave(store.WaveRecord{
		SignalID:  wp.SignalID,
		ParentID:  pkt.SignalID,
		Exchange:  p.exchange,
		WaveIndex: wave,
		WaveCount: p.waves,
		Symbol:    pkt.Symbol,
		TotalUSD:  waveTotal,
		Timestamp: wp.Timestamp,
	}); err != nil {
		e.logger.Warn("journal wave failed", "signal_id", wp.SignalID, "error", err)
	}

	e.notifier.Emit(ctx, alert.KindWave,
		fmt.Sprintf("wave %d/%d on %s: %.2f USDT", wave, p.waves, p.exchange, waveTotal),
		map[string]any{
			"signal_id":  wp.SignalID,
			"parent":     pkt.SignalID,
			"exchange":   string(p.exchange),
			"wave_index": wave,
			"total_usd":  waveTotal,
		})
	e.logger.Info("wave dispatched",
		"signal_id", wp.SignalID, "exchange", p.exchange, "wave", wave, "total_usd", waveTotal)
}
