// Package soldier wraps one client's credentials around the exchange gateway.
//
// A Soldier executes exactly one client's share of a signal and reports the
// outcome as an ExecutionResult instead of an error: the fleet fan-out treats
// every client independently, so failures are data, not control flow. A
// rejected order, a zero balance on close, and a successful fill all come
// back as results the executor can journal and alert on uniformly.
//
// Soldiers are built through a per-exchange factory registry so a new venue
// only needs a Register call.
package soldier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"horus-core/internal/gateway"
	"horus-core/pkg/types"
)

// ErrUnsupported is returned by New for an exchange with no registered factory.
var ErrUnsupported = errors.New("unsupported exchange")

// ReasonNothingToClose marks a close that found no position. It counts as
// executed: the desired end state (no position) already holds.
const ReasonNothingToClose = "nothing_to_close"

// Soldier executes market operations for a single client. Implementations
// never return Go errors; all outcomes are encoded in the ExecutionResult.
type Soldier interface {
	Buy(ctx context.Context, sym types.Symbol, usd float64) types.ExecutionResult
	Sell(ctx context.Context, sym types.Symbol, usd float64) types.ExecutionResult
	Close(ctx context.Context, sym types.Symbol) types.ExecutionResult
}

// Factory builds a Soldier for one client on one exchange.
type Factory func(gw *gateway.Gateway, client types.Client) Soldier

var (
	mu        sync.RWMutex
	factories = map[types.Exchange]Factory{}
)

// Register installs a factory for an exchange, replacing any existing one.
func Register(ex types.Exchange, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[ex] = f
}

// New builds a soldier for the client's exchange.
func New(gw *gateway.Gateway, client types.Client) (Soldier, error) {
	mu.RLock()
	f, ok := factories[client.Exchange]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, client.Exchange)
	}
	return f(gw, client), nil
}

func init() {
	// All three launch venues share the gateway-backed implementation; the
	// gateway handles per-venue signing and sizing.
	for _, ex := range []types.Exchange{types.OKX, types.Binance, types.Bybit} {
		Register(ex, newGatewaySoldier)
	}
}

// gatewaySoldier is the standard Soldier: credentials plus a shared gateway.
type gatewaySoldier struct {
	gw     *gateway.Gateway
	client types.Client
}

func newGatewaySoldier(gw *gateway.Gateway, client types.Client) Soldier {
	return &gatewaySoldier{gw: gw, client: client}
}

func (s *gatewaySoldier) Buy(ctx context.Context, sym types.Symbol, usd float64) types.ExecutionResult {
	res, err := s.gw.MarketBuy(ctx, s.client.Exchange, s.client.Credentials(), sym, usd)
	return s.outcome(sym, usd, res, err)
}

func (s *gatewaySoldier) Sell(ctx context.Context, sym types.Symbol, usd float64) types.ExecutionResult {
	res, err := s.gw.MarketSell(ctx, s.client.Exchange, s.client.Credentials(), sym, usd)
	return s.outcome(sym, usd, res, err)
}

func (s *gatewaySoldier) Close(ctx context.Context, sym types.Symbol) types.ExecutionResult {
	res, err := s.gw.ClosePosition(ctx, s.client.Exchange, s.client.Credentials(), sym)
	if errors.Is(err, gateway.ErrNothingToClose) {
		return types.ExecutionResult{
			ClientID: s.client.ClientID,
			Symbol:   sym,
			Exchange: s.client.Exchange,
			Status:   types.StatusExecuted,
			Reason:   ReasonNothingToClose,
			Time:     time.Now().UTC(),
		}
	}
	return s.outcome(sym, 0, res, err)
}

func (s *gatewaySoldier) outcome(sym types.Symbol, usd float64, res *gateway.OrderResult, err error) types.ExecutionResult {
	out := types.ExecutionResult{
		ClientID: s.client.ClientID,
		Symbol:   sym,
		Amount:   usd,
		Exchange: s.client.Exchange,
		Time:     time.Now().UTC(),
	}
	if err != nil {
		out.Status = types.StatusFailed
		out.Reason = err.Error()
		return out
	}
	out.Status = types.StatusExecuted
	out.Price = res.Price
	if out.Amount == 0 {
		out.Amount = res.BaseQty
	}
	return out
}
