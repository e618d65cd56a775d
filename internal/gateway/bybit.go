// bybit.go implements the Bybit v5 spot REST flows.
//
// Bybit signs with hex(HMAC-SHA256(secret, payload)) where the payload is the
// JSON body for POSTs and the query string for GETs, with the key carried in
// the X-BAPI-API-KEY header. Like Binance, market orders are sized in base
// quantity, so a notional order fetches the last traded price first.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"horus-core/pkg/types"
)

const (
	bybitTickerPath  = "/v5/market/tickers"
	bybitOrderPath   = "/v5/order/create"
	bybitBalancePath = "/v5/account/wallet-balance"
)

const bybitQtyPlaces = 6

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func bybitHeaders(creds types.Credentials, sign string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY": creds.APIKey,
		"X-BAPI-SIGN":    sign,
	}
}

// bybitOrder fetches the last price, converts the notional to a base quantity
// and places a spot market order. side is "Buy" or "Sell".
func (g *Gateway) bybitOrder(ctx context.Context, creds types.Credentials, sym types.Symbol, side string, usd float64) (*OrderResult, error) {
	price, err := g.bybitPrice(ctx, sym)
	if err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(usd).Div(price).Round(bybitQtyPlaces)
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("bybit %s %s: notional %.2f rounds to zero quantity at price %s",
			side, sym, usd, price)
	}

	raw, err := g.bybitPlace(ctx, creds, sym, side, qty)
	if err != nil {
		return nil, err
	}

	p, _ := price.Float64()
	q, _ := qty.Float64()
	return &OrderResult{
		Exchange: types.Bybit,
		Symbol:   sym,
		Side:     side,
		QuoteUSD: usd,
		BaseQty:  q,
		Price:    p,
		Raw:      raw,
	}, nil
}

// bybitClose reads the free base-coin balance from the spot wallet and sells
// all of it.
func (g *Gateway) bybitClose(ctx context.Context, creds types.Credentials, sym types.Symbol) (*OrderResult, error) {
	free, err := g.bybitFreeBalance(ctx, creds, sym.Base)
	if err != nil {
		return nil, err
	}
	if free.Sign() <= 0 {
		return nil, ErrNothingToClose
	}

	qty := free.RoundDown(bybitQtyPlaces)
	if qty.Sign() <= 0 {
		return nil, ErrNothingToClose
	}

	raw, err := g.bybitPlace(ctx, creds, sym, "Sell", qty)
	if err != nil {
		return nil, err
	}
	q, _ := qty.Float64()
	return &OrderResult{
		Exchange: types.Bybit,
		Symbol:   sym,
		Side:     "Sell",
		BaseQty:  q,
		Raw:      raw,
	}, nil
}

func (g *Gateway) bybitPrice(ctx context.Context, sym types.Symbol) (decimal.Decimal, error) {
	if err := g.rl[types.Bybit].Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	resp, err := g.bybit.R().
		SetContext(reqCtx).
		SetQueryParams(map[string]string{
			"category": "spot",
			"symbol":   sym.Concat(),
		}).
		Get(bybitTickerPath)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit ticker request: %w", err)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return decimal.Zero, fmt.Errorf("bybit ticker response: %w", err)
	}
	if env.RetCode != 0 {
		return decimal.Zero, &RejectionError{Exchange: types.Bybit, Code: fmt.Sprint(env.RetCode), Message: env.RetMsg}
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return decimal.Zero, fmt.Errorf("bybit ticker result: %w", err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit ticker %s: empty result", sym.Concat())
	}

	price, err := decimal.NewFromString(result.List[0].LastPrice)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("bybit ticker %s: bad price %q", sym.Concat(), result.List[0].LastPrice)
	}
	return price, nil
}

func (g *Gateway) bybitPlace(ctx context.Context, creds types.Credentials, sym types.Symbol, side string, qty decimal.Decimal) (json.RawMessage, error) {
	if err := g.rl[types.Bybit].Order.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"category":  "spot",
		"symbol":    sym.Concat(),
		"side":      side,
		"orderType": "Market",
		"qty":       qty.String(),
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bybit order: %w", err)
	}

	resp, err := g.bybit.R().
		SetContext(ctx).
		SetHeaders(bybitHeaders(creds, signHex(creds.Secret, string(body)))).
		SetBody(json.RawMessage(body)).
		Post(bybitOrderPath)
	if err != nil {
		return nil, fmt.Errorf("bybit order request: %w", err)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("bybit order response: %w", err)
	}
	if env.RetCode != 0 {
		return nil, &RejectionError{Exchange: types.Bybit, Code: fmt.Sprint(env.RetCode), Message: env.RetMsg}
	}
	return resp.Body(), nil
}

// bybitFreeBalance reads the free balance for one coin from the spot wallet.
func (g *Gateway) bybitFreeBalance(ctx context.Context, creds types.Credentials, coin string) (decimal.Decimal, error) {
	if err := g.rl[types.Bybit].Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	query := "accountType=SPOT&coin=" + coin
	resp, err := g.bybit.R().
		SetContext(reqCtx).
		SetHeaders(bybitHeaders(creds, signHex(creds.Secret, query))).
		Get(bybitBalancePath + "?" + query)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit balance request: %w", err)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return decimal.Zero, fmt.Errorf("bybit balance response: %w", err)
	}
	if env.RetCode != 0 {
		return decimal.Zero, &RejectionError{Exchange: types.Bybit, Code: fmt.Sprint(env.RetCode), Message: env.RetMsg}
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				Free          string `json:"free"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return decimal.Zero, fmt.Errorf("bybit balance result: %w", err)
	}

	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin != coin {
				continue
			}
			bal := c.Free
			if bal == "" {
				bal = c.WalletBalance
			}
			if bal == "" {
				continue
			}
			out, err := decimal.NewFromString(bal)
			if err != nil {
				return decimal.Zero, fmt.Errorf("bybit balance %q for %s: %w", bal, coin, err)
			}
			return out, nil
		}
	}
	return decimal.Zero, nil
}
