// books.go fetches public ask ladders from the three venues. No credentials
// are involved; these are unauthenticated market-data endpoints.
package smartentry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"horus-core/pkg/types"
)

// BookFetcher returns the ask ladder for a symbol on one exchange, best ask
// first. The engine depends on this interface so tests can plan waves
// against synthetic books.
type BookFetcher interface {
	Asks(ctx context.Context, ex types.Exchange, sym types.Symbol, depth int) ([]Level, error)
}

// RESTBooks is the production BookFetcher.
type RESTBooks struct {
	okx     *resty.Client
	binance *resty.Client
	bybit   *resty.Client
}

// BooksConfig holds the public base URLs (overridable for tests).
type BooksConfig struct {
	OKXBaseURL     string
	BinanceBaseURL string
	BybitBaseURL   string
	Timeout        time.Duration
}

// NewRESTBooks creates a fetcher for the given endpoints.
func NewRESTBooks(cfg BooksConfig) *RESTBooks {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	newClient := func(base string) *resty.Client {
		return resty.New().SetBaseURL(base).SetTimeout(timeout)
	}
	return &RESTBooks{
		okx:     newClient(cfg.OKXBaseURL),
		binance: newClient(cfg.BinanceBaseURL),
		bybit:   newClient(cfg.BybitBaseURL),
	}
}

// Asks dispatches to the venue-specific book endpoint.
func (r *RESTBooks) Asks(ctx context.Context, ex types.Exchange, sym types.Symbol, depth int) ([]Level, error) {
	switch ex {
	case types.OKX:
		return r.okxAsks(ctx, sym, depth)
	case types.Binance:
		return r.binanceAsks(ctx, sym, depth)
	case types.Bybit:
		return r.bybitAsks(ctx, sym, depth)
	}
	return nil, fmt.Errorf("no book endpoint for exchange %q", ex)
}

func (r *RESTBooks) okxAsks(ctx context.Context, sym types.Symbol, depth int) ([]Level, error) {
	var parsed struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Asks [][]string `json:"asks"`
		} `json:"data"`
	}
	resp, err := r.okx.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instId": sym.Dash(),
			"sz":     strconv.Itoa(depth),
		}).
		SetResult(&parsed).
		Get("/api/v5/market/books")
	if err != nil {
		return nil, fmt.Errorf("okx book request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || parsed.Code != "0" {
		return nil, fmt.Errorf("okx book %s: code=%s msg=%s", sym.Dash(), parsed.Code, parsed.Msg)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("okx book %s: empty data", sym.Dash())
	}
	return parseLadder(parsed.Data[0].Asks)
}

func (r *RESTBooks) binanceAsks(ctx context.Context, sym types.Symbol, depth int) ([]Level, error) {
	var parsed struct {
		Asks [][]string `json:"asks"`
	}
	resp, err := r.binance.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": sym.Concat(),
			"limit":  strconv.Itoa(depth),
		}).
		SetResult(&parsed).
		Get("/api/v3/depth")
	if err != nil {
		return nil, fmt.Errorf("binance book request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance book %s: status %s", sym.Concat(), resp.Status())
	}
	return parseLadder(parsed.Asks)
}

func (r *RESTBooks) bybitAsks(ctx context.Context, sym types.Symbol, depth int) ([]Level, error) {
	resp, err := r.bybit.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": "spot",
			"symbol":   sym.Concat(),
			"limit":    strconv.Itoa(depth),
		}).
		Get("/v5/market/orderbook")
	if err != nil {
		return nil, fmt.Errorf("bybit book request: %w", err)
	}

	var env struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			Asks [][]string `json:"a"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("bybit book response: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit book %s: retCode=%d msg=%s", sym.Concat(), env.RetCode, env.RetMsg)
	}
	return parseLadder(env.Result.Asks)
}

// parseLadder converts [[price, qty], ...] string pairs into Levels, keeping
// exchange order (best ask first).
func parseLadder(raw [][]string) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for _, row := range raw {
		if len(row) < 2 {
			return nil, fmt.Errorf("short ladder row %v", row)
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("ladder price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("ladder qty %q: %w", row[1], err)
		}
		out = append(out, Level{Price: price, Qty: qty})
	}
	return out, nil
}
