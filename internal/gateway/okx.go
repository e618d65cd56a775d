// okx.go implements the OKX v5 REST flows.
//
// OKX signs with base64(HMAC-SHA256(secret, timestamp + method + requestPath
// + body)) where timestamp is ISO-8601 with milliseconds and requestPath
// includes the query string. Market orders are sized in quote currency
// (sz = USDT notional, tgtCcy=quote_ccy), so no ticker fetch is needed.
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
	okxOrderPath   = "/api/v5/trade/order"
	okxBalancePath = "/api/v5/account/balance"
)

// okxTimestamp formats now the way the signature expects: ISO-8601 UTC with
// millisecond precision, e.g. "2026-08-24T12:00:00.000Z".
func okxTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func okxHeaders(creds types.Credentials, ts, sign string) map[string]string {
	return map[string]string{
		"OK-ACCESS-KEY":        creds.APIKey,
		"OK-ACCESS-SIGN":       sign,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": creds.Passphrase,
	}
}

type okxResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	} `json:"data"`
}

// okxOrder places a notional-sized spot market order. side is "buy" or "sell".
func (g *Gateway) okxOrder(ctx context.Context, creds types.Credentials, sym types.Symbol, side string, usd float64) (*OrderResult, error) {
	sz := decimal.NewFromFloat(usd).Round(2).String()
	raw, err := g.okxPlace(ctx, creds, sym, side, sz, "quote_ccy")
	if err != nil {
		return nil, err
	}
	return &OrderResult{
		Exchange: types.OKX,
		Symbol:   sym,
		Side:     side,
		QuoteUSD: usd,
		Raw:      raw,
	}, nil
}

// okxClose reads the base-currency balance and sells all of it. The sell is
// sized in base units (OKX's default for market sells).
func (g *Gateway) okxClose(ctx context.Context, creds types.Credentials, sym types.Symbol) (*OrderResult, error) {
	qty, err := g.okxBalance(ctx, creds, sym.Base)
	if err != nil {
		return nil, err
	}
	if qty.Sign() <= 0 {
		return nil, ErrNothingToClose
	}

	raw, err := g.okxPlace(ctx, creds, sym, "sell", qty.String(), "base_ccy")
	if err != nil {
		return nil, err
	}
	q, _ := qty.Float64()
	return &OrderResult{
		Exchange: types.OKX,
		Symbol:   sym,
		Side:     "sell",
		BaseQty:  q,
		Raw:      raw,
	}, nil
}

func (g *Gateway) okxPlace(ctx context.Context, creds types.Credentials, sym types.Symbol, side, sz, tgtCcy string) (json.RawMessage, error) {
	if err := g.rl[types.OKX].Order.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{
		"instId":  sym.Dash(),
		"tdMode":  "cash",
		"side":    side,
		"ordType": "market",
		"sz":      sz,
		"tgtCcy":  tgtCcy,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal okx order: %w", err)
	}

	ts := okxTimestamp()
	sign := signBase64(creds.Secret, ts+"POST"+okxOrderPath+string(body))

	resp, err := g.okx.R().
		SetContext(ctx).
		SetHeaders(okxHeaders(creds, ts, sign)).
		SetBody(json.RawMessage(body)).
		Post(okxOrderPath)
	if err != nil {
		return nil, fmt.Errorf("okx order request: %w", err)
	}

	var parsed okxResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("okx order response: %w", err)
	}
	if parsed.Code != "0" {
		return nil, &RejectionError{Exchange: types.OKX, Code: parsed.Code, Message: parsed.Msg}
	}
	// Batch-style envelope: the order-level sCode can fail even when the
	// outer code is "0".
	if len(parsed.Data) > 0 && parsed.Data[0].SCode != "" && parsed.Data[0].SCode != "0" {
		return nil, &RejectionError{Exchange: types.OKX, Code: parsed.Data[0].SCode, Message: parsed.Data[0].SMsg}
	}
	return resp.Body(), nil
}

// okxBalance returns the available balance of one currency.
func (g *Gateway) okxBalance(ctx context.Context, creds types.Credentials, ccy string) (decimal.Decimal, error) {
	if err := g.rl[types.OKX].Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// The signed request path includes the query string.
	path := okxBalancePath + "?ccy=" + ccy
	ts := okxTimestamp()
	sign := signBase64(creds.Secret, ts+"GET"+path)

	resp, err := g.okx.R().
		SetContext(reqCtx).
		SetHeaders(okxHeaders(creds, ts, sign)).
		Get(path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx balance request: %w", err)
	}

	var parsed struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Details []struct {
				Ccy      string `json:"ccy"`
				AvailBal string `json:"availBal"`
				CashBal  string `json:"cashBal"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("okx balance response: %w", err)
	}
	if parsed.Code != "0" {
		return decimal.Zero, &RejectionError{Exchange: types.OKX, Code: parsed.Code, Message: parsed.Msg}
	}

	for _, acct := range parsed.Data {
		for _, d := range acct.Details {
			if d.Ccy != ccy {
				continue
			}
			bal := d.AvailBal
			if bal == "" {
				bal = d.CashBal
			}
			if bal == "" {
				continue
			}
			out, err := decimal.NewFromString(bal)
			if err != nil {
				return decimal.Zero, fmt.Errorf("okx balance %q for %s: %w", bal, ccy, err)
			}
			return out, nil
		}
	}
	return decimal.Zero, nil
}
