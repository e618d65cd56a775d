// Package gateway implements the unified signed-REST facade over the
// supported exchanges (OKX, Binance, Bybit).
//
// Three operations exist per exchange:
//   - MarketBuy:      spot market buy for a USDT notional
//   - MarketSell:     spot market sell for a USDT notional
//   - ClosePosition:  sell the account's whole base-currency balance
//
// The gateway receives credentials as parameters (it never consults the
// client registry) and it never retries: a duplicated market order is worse
// than a missed one. Errors come back structured: exchange
// rejections as *RejectionError, an empty base balance as ErrNothingToClose.
// Every request passes a per-exchange token bucket before leaving.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"horus-core/pkg/types"
)

// ErrNothingToClose is returned by ClosePosition when the account holds no
// base-currency balance. Callers treat it as a benign outcome, not a failure.
var ErrNothingToClose = errors.New("nothing to close")

// ErrUnknownExchange is returned for an exchange the gateway does not support.
var ErrUnknownExchange = errors.New("unknown exchange")

// RejectionError carries a non-success response from an exchange.
type RejectionError struct {
	Exchange types.Exchange
	Code     string // exchange-specific error code, if any
	Message  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected order: code=%s msg=%s", e.Exchange, e.Code, e.Message)
}

// Market-data reads are short; order placement gets more headroom.
const (
	readTimeout  = 5 * time.Second
	orderTimeout = 10 * time.Second
)

// Config holds the per-exchange base URLs (overridable for tests).
type Config struct {
	OKXBaseURL     string
	BinanceBaseURL string
	BybitBaseURL   string
}

// OrderResult is the gateway's view of a completed call: the raw exchange
// response plus whatever sizing facts were established along the way (the
// Binance/Bybit flows fetch a reference price to convert notional to base
// quantity; OKX takes notional directly).
type OrderResult struct {
	Exchange types.Exchange
	Symbol   types.Symbol
	Side     string
	QuoteUSD float64 // USDT notional, when the call was notional-sized
	BaseQty  float64 // base quantity, when one was computed
	Price    float64 // reference price used for sizing, 0 if none fetched
	Raw      json.RawMessage
}

// Gateway is the unified execution facade. One resty client per exchange
// shares its transport and rate limiter across all clients' credentials.
type Gateway struct {
	okx     *resty.Client
	binance *resty.Client
	bybit   *resty.Client
	rl      map[types.Exchange]*RateLimiter
	logger  *slog.Logger
}

// New creates a gateway for the given endpoints.
func New(cfg Config, logger *slog.Logger) *Gateway {
	newClient := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(orderTimeout).
			SetHeader("Content-Type", "application/json")
	}
	return &Gateway{
		okx:     newClient(cfg.OKXBaseURL),
		binance: newClient(cfg.BinanceBaseURL),
		bybit:   newClient(cfg.BybitBaseURL),
		rl: map[types.Exchange]*RateLimiter{
			types.OKX:     NewRateLimiter(),
			types.Binance: NewRateLimiter(),
			types.Bybit:   NewRateLimiter(),
		},
		logger: logger.With("component", "gateway"),
	}
}

// MarketBuy places a spot market buy worth usd of the quote currency.
func (g *Gateway) MarketBuy(ctx context.Context, ex types.Exchange, creds types.Credentials, sym types.Symbol, usd float64) (*OrderResult, error) {
	g.logger.Debug("market buy", "exchange", ex, "symbol", sym, "usd", usd)
	switch ex {
	case types.OKX:
		return g.okxOrder(ctx, creds, sym, "buy", usd)
	case types.Binance:
		return g.binanceOrder(ctx, creds, sym, "BUY", usd)
	case types.Bybit:
		return g.bybitOrder(ctx, creds, sym, "Buy", usd)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, ex)
}

// MarketSell places a spot market sell worth usd of the quote currency.
func (g *Gateway) MarketSell(ctx context.Context, ex types.Exchange, creds types.Credentials, sym types.Symbol, usd float64) (*OrderResult, error) {
	g.logger.Debug("market sell", "exchange", ex, "symbol", sym, "usd", usd)
	switch ex {
	case types.OKX:
		return g.okxOrder(ctx, creds, sym, "sell", usd)
	case types.Binance:
		return g.binanceOrder(ctx, creds, sym, "SELL", usd)
	case types.Bybit:
		return g.bybitOrder(ctx, creds, sym, "Sell", usd)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, ex)
}

// ClosePosition sells the account's entire base-currency spot balance.
// Returns ErrNothingToClose when there is nothing to sell.
func (g *Gateway) ClosePosition(ctx context.Context, ex types.Exchange, creds types.Credentials, sym types.Symbol) (*OrderResult, error) {
	g.logger.Debug("close position", "exchange", ex, "symbol", sym)
	switch ex {
	case types.OKX:
		return g.okxClose(ctx, creds, sym)
	case types.Binance:
		return g.binanceClose(ctx, creds, sym)
	case types.Bybit:
		return g.bybitClose(ctx, creds, sym)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, ex)
}
