package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"horus-core/pkg/types"
)

var testCreds = types.Credentials{
	APIKey:     "key-1",
	Secret:     "secret-1",
	Passphrase: "phrase-1",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(serverURL string) *Gateway {
	return New(Config{
		OKXBaseURL:     serverURL,
		BinanceBaseURL: serverURL,
		BybitBaseURL:   serverURL,
	}, testLogger())
}

func btcusdt(t *testing.T) types.Symbol {
	t.Helper()
	sym, err := types.ParseSymbol("BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	return sym
}

func TestOKXOrderSigning(t *testing.T) {
	t.Parallel()

	var captured struct {
		ts, sign string
		body     []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != okxOrderPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		captured.ts = r.Header.Get("OK-ACCESS-TIMESTAMP")
		captured.sign = r.Header.Get("OK-ACCESS-SIGN")
		captured.body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"code":"0","msg":"","data":[{"sCode":"0","ordId":"1"}]}`))
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).MarketBuy(context.Background(), types.OKX, testCreds, btcusdt(t), 150.5)
	if err != nil {
		t.Fatal(err)
	}
	if res.QuoteUSD != 150.5 {
		t.Errorf("QuoteUSD = %v", res.QuoteUSD)
	}

	want := signBase64(testCreds.Secret, captured.ts+"POST"+okxOrderPath+string(captured.body))
	if captured.sign != want {
		t.Errorf("signature mismatch:\n got %s\nwant %s", captured.sign, want)
	}

	var body map[string]string
	if err := json.Unmarshal(captured.body, &body); err != nil {
		t.Fatal(err)
	}
	if body["instId"] != "BTC-USDT" {
		t.Errorf("instId = %q", body["instId"])
	}
	if body["sz"] != "150.5" {
		t.Errorf("sz = %q", body["sz"])
	}
	if body["tgtCcy"] != "quote_ccy" || body["ordType"] != "market" || body["tdMode"] != "cash" {
		t.Errorf("order fields = %v", body)
	}
}

func TestOKXRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"1","msg":"Insufficient balance","data":[]}`))
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).MarketSell(context.Background(), types.OKX, testCreds, btcusdt(t), 100)
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("want *RejectionError, got %v", err)
	}
	if rej.Exchange != types.OKX || rej.Code != "1" {
		t.Errorf("rejection = %+v", rej)
	}
}

func TestOKXCloseEmptyBalance(t *testing.T) {
	t.Parallel()

	orders := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okxBalancePath:
			w.Write([]byte(`{"code":"0","data":[{"details":[{"ccy":"BTC","availBal":"0"}]}]}`))
		case okxOrderPath:
			orders++
			w.Write([]byte(`{"code":"0","data":[{"sCode":"0"}]}`))
		}
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).ClosePosition(context.Background(), types.OKX, testCreds, btcusdt(t))
	if !errors.Is(err, ErrNothingToClose) {
		t.Fatalf("want ErrNothingToClose, got %v", err)
	}
	if orders != 0 {
		t.Errorf("placed %d orders with empty balance", orders)
	}
}

func TestOKXCloseSellsBalance(t *testing.T) {
	t.Parallel()

	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okxBalancePath:
			if r.URL.Query().Get("ccy") != "BTC" {
				t.Errorf("ccy = %q", r.URL.Query().Get("ccy"))
			}
			w.Write([]byte(`{"code":"0","data":[{"details":[{"ccy":"BTC","availBal":"0.042"}]}]}`))
		case okxOrderPath:
			raw, _ := io.ReadAll(r.Body)
			json.Unmarshal(raw, &body)
			w.Write([]byte(`{"code":"0","data":[{"sCode":"0"}]}`))
		}
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).ClosePosition(context.Background(), types.OKX, testCreds, btcusdt(t))
	if err != nil {
		t.Fatal(err)
	}
	if body["side"] != "sell" || body["sz"] != "0.042" || body["tgtCcy"] != "base_ccy" {
		t.Errorf("close order fields = %v", body)
	}
	if res.BaseQty != 0.042 {
		t.Errorf("BaseQty = %v", res.BaseQty)
	}
}

func TestBinanceOrderFlow(t *testing.T) {
	t.Parallel()

	var orderQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case binanceTickerPath:
			if r.URL.Query().Get("symbol") != "BTCUSDT" {
				t.Errorf("ticker symbol = %q", r.URL.Query().Get("symbol"))
			}
			w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000"}`))
		case binanceOrderPath:
			if r.Header.Get("X-MBX-APIKEY") != testCreds.APIKey {
				t.Error("missing api key header")
			}
			orderQuery = r.URL.Query()
			w.Write([]byte(`{"orderId":42,"status":"FILLED"}`))
		}
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).MarketBuy(context.Background(), types.Binance, testCreds, btcusdt(t), 100)
	if err != nil {
		t.Fatal(err)
	}
	if res.BaseQty != 0.002 || res.Price != 50000 {
		t.Errorf("BaseQty = %v Price = %v", res.BaseQty, res.Price)
	}
	if got := orderQuery.Get("quantity"); got != "0.002" {
		t.Errorf("quantity = %q", got)
	}
	if got := orderQuery.Get("type"); got != "MARKET" {
		t.Errorf("type = %q", got)
	}

	// The signature covers the query string minus the signature parameter.
	signedPart := "symbol=" + orderQuery.Get("symbol") +
		"&side=" + orderQuery.Get("side") +
		"&type=" + orderQuery.Get("type") +
		"&quantity=" + orderQuery.Get("quantity") +
		"&timestamp=" + orderQuery.Get("timestamp")
	if got, want := orderQuery.Get("signature"), signHex(testCreds.Secret, signedPart); got != want {
		t.Errorf("signature mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestBinanceCloseSellsFreeBalance(t *testing.T) {
	t.Parallel()

	var orderQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case binanceAccountPath:
			if r.URL.Query().Get("signature") == "" {
				t.Error("account read must be signed")
			}
			w.Write([]byte(`{"balances":[{"asset":"ETH","free":"1.5"},{"asset":"BTC","free":"0.25"}]}`))
		case binanceOrderPath:
			orderQuery = r.URL.Query()
			w.Write([]byte(`{"orderId":7,"status":"FILLED"}`))
		}
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).ClosePosition(context.Background(), types.Binance, testCreds, btcusdt(t))
	if err != nil {
		t.Fatal(err)
	}
	if orderQuery.Get("side") != "SELL" || orderQuery.Get("quantity") != "0.25" {
		t.Errorf("close order query = %v", orderQuery)
	}
	if res.BaseQty != 0.25 {
		t.Errorf("BaseQty = %v", res.BaseQty)
	}
}

func TestBybitOrderSigning(t *testing.T) {
	t.Parallel()

	var sign string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case bybitTickerPath:
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"40000"}]}}`))
		case bybitOrderPath:
			sign = r.Header.Get("X-BAPI-SIGN")
			body, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"abc"}}`))
		}
	}))
	defer srv.Close()

	res, err := newTestGateway(srv.URL).MarketBuy(context.Background(), types.Bybit, testCreds, btcusdt(t), 200)
	if err != nil {
		t.Fatal(err)
	}
	if res.BaseQty != 0.005 {
		t.Errorf("BaseQty = %v", res.BaseQty)
	}

	if want := signHex(testCreds.Secret, string(body)); sign != want {
		t.Errorf("signature mismatch:\n got %s\nwant %s", sign, want)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["symbol"] != "BTCUSDT" || fields["category"] != "spot" || fields["orderType"] != "Market" {
		t.Errorf("order fields = %v", fields)
	}
	if fields["qty"] != "0.005" {
		t.Errorf("qty = %v", fields["qty"])
	}
}

func TestBybitRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case bybitTickerPath:
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"lastPrice":"40000"}]}}`))
		case bybitOrderPath:
			w.Write([]byte(`{"retCode":170131,"retMsg":"Insufficient balance","result":{}}`))
		}
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).MarketSell(context.Background(), types.Bybit, testCreds, btcusdt(t), 50)
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("want *RejectionError, got %v", err)
	}
	if rej.Exchange != types.Bybit || !strings.Contains(rej.Message, "Insufficient") {
		t.Errorf("rejection = %+v", rej)
	}
}

func TestBybitCloseEmptyWallet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != bybitBalancePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"coin":[]}]}}`))
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).ClosePosition(context.Background(), types.Bybit, testCreds, btcusdt(t))
	if !errors.Is(err, ErrNothingToClose) {
		t.Fatalf("want ErrNothingToClose, got %v", err)
	}
}

func TestUnknownExchange(t *testing.T) {
	t.Parallel()

	g := newTestGateway("http://localhost:0")
	_, err := g.MarketBuy(context.Background(), types.Exchange("kraken"), testCreds, btcusdt(t), 10)
	if !errors.Is(err, ErrUnknownExchange) {
		t.Fatalf("want ErrUnknownExchange, got %v", err)
	}
}
