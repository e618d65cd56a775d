// binance.go implements the Binance spot REST flows.
//
// Binance signs with hex(HMAC-SHA256(secret, queryString)) and authenticates
// via the X-MBX-APIKEY header. Market orders are sized in base quantity, so
// placing a notional order takes two calls: fetch the last price, convert
// usd to a base quantity rounded to 6 decimals, then place.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"horus-core/pkg/types"
)

const (
	binanceTickerPath  = "/api/v3/ticker/price"
	binanceOrderPath   = "/api/v3/order"
	binanceAccountPath = "/api/v3/account"
)

// binanceQtyPlaces is the quantity rounding applied before placing an order.
// Most spot pairs accept 6 decimals; anything finer risks LOT_SIZE rejects.
const binanceQtyPlaces = 6

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// binanceOrder fetches the last price, converts the notional to a base
// quantity and places a spot market order. side is "BUY" or "SELL".
func (g *Gateway) binanceOrder(ctx context.Context, creds types.Credentials, sym types.Symbol, side string, usd float64) (*OrderResult, error) {
	price, err := g.binancePrice(ctx, sym)
	if err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(usd).Div(price).Round(binanceQtyPlaces)
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("binance %s %s: notional %.2f rounds to zero quantity at price %s",
			side, sym, usd, price)
	}

	raw, err := g.binancePlace(ctx, creds, sym, side, qty)
	if err != nil {
		return nil, err
	}

	p, _ := price.Float64()
	q, _ := qty.Float64()
	return &OrderResult{
		Exchange: types.Binance,
		Symbol:   sym,
		Side:     side,
		QuoteUSD: usd,
		BaseQty:  q,
		Price:    p,
		Raw:      raw,
	}, nil
}

// binanceClose reads the free base-asset balance from the account endpoint
// and sells all of it.
func (g *Gateway) binanceClose(ctx context.Context, creds types.Credentials, sym types.Symbol) (*OrderResult, error) {
	free, err := g.binanceFreeBalance(ctx, creds, sym.Base)
	if err != nil {
		return nil, err
	}
	if free.Sign() <= 0 {
		return nil, ErrNothingToClose
	}

	qty := free.RoundDown(binanceQtyPlaces)
	if qty.Sign() <= 0 {
		return nil, ErrNothingToClose
	}

	raw, err := g.binancePlace(ctx, creds, sym, "SELL", qty)
	if err != nil {
		return nil, err
	}
	q, _ := qty.Float64()
	return &OrderResult{
		Exchange: types.Binance,
		Symbol:   sym,
		Side:     "SELL",
		BaseQty:  q,
		Raw:      raw,
	}, nil
}

func (g *Gateway) binancePrice(ctx context.Context, sym types.Symbol) (decimal.Decimal, error) {
	if err := g.rl[types.Binance].Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var parsed struct {
		Price string `json:"price"`
	}
	resp, err := g.binance.R().
		SetContext(reqCtx).
		SetQueryParam("symbol", sym.Concat()).
		SetResult(&parsed).
		ForceContentType("application/json").
		Get(binanceTickerPath)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance ticker request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, &RejectionError{Exchange: types.Binance, Code: resp.Status(), Message: string(resp.Body())}
	}

	price, err := decimal.NewFromString(parsed.Price)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("binance ticker %s: bad price %q", sym.Concat(), parsed.Price)
	}
	return price, nil
}

func (g *Gateway) binancePlace(ctx context.Context, creds types.Credentials, sym types.Symbol, side string, qty decimal.Decimal) ([]byte, error) {
	if err := g.rl[types.Binance].Order.Wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("symbol=%s&side=%s&type=MARKET&quantity=%s&timestamp=%d",
		sym.Concat(), side, qty.String(), time.Now().UnixMilli())
	sig := signHex(creds.Secret, query)

	resp, err := g.binance.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", creds.APIKey).
		Post(binanceOrderPath + "?" + query + "&signature=" + sig)
	if err != nil {
		return nil, fmt.Errorf("binance order request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		var e binanceError
		_ = json.Unmarshal(resp.Body(), &e)
		return nil, &RejectionError{Exchange: types.Binance, Code: fmt.Sprint(e.Code), Message: e.Msg}
	}
	return resp.Body(), nil
}

// binanceFreeBalance reads the free balance for one asset from the signed
// account snapshot.
func (g *Gateway) binanceFreeBalance(ctx context.Context, creds types.Credentials, asset string) (decimal.Decimal, error) {
	if err := g.rl[types.Binance].Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := fmt.Sprintf("timestamp=%d", time.Now().UnixMilli())
	sig := signHex(creds.Secret, query)

	var parsed struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	resp, err := g.binance.R().
		SetContext(reqCtx).
		SetHeader("X-MBX-APIKEY", creds.APIKey).
		SetResult(&parsed).
		ForceContentType("application/json").
		Get(binanceAccountPath + "?" + query + "&signature=" + sig)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance account request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		var e binanceError
		_ = json.Unmarshal(resp.Body(), &e)
		return decimal.Zero, &RejectionError{Exchange: types.Binance, Code: fmt.Sprint(e.Code), Message: e.Msg}
	}

	for _, b := range parsed.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance balance %q for %s: %w", b.Free, asset, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}
