package eye

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"horus-core/internal/bus"
	"horus-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEye(t *testing.T) (*Eye, <-chan bus.Message, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewMemory()
	out, err := b.Subscribe(ctx, bus.CaptainSignals)
	if err != nil {
		t.Fatal(err)
	}
	e := New(Config{
		URL:         "wss://example.invalid/ws/v5/private",
		Credentials: types.Credentials{APIKey: "k", Secret: "s", Passphrase: "p"},
	}, b, testLogger())
	return e, out, ctx
}

func fillFrame(ordID, instID, side, fillSz, avgPx string) []byte {
	frame := fmt.Sprintf(`{"arg":{"channel":"orders","instType":"SPOT"},"data":[{"ordId":%q,"instId":%q,"side":%q,"fillSz":%q,"avgPx":%q,"state":"filled"}]}`,
		ordID, instID, side, fillSz, avgPx)
	return []byte(frame)
}

func recvSignal(t *testing.T, ch <-chan bus.Message) types.Signal {
	t.Helper()
	select {
	case msg := <-ch:
		var sig types.Signal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			t.Fatalf("bad signal: %v", err)
		}
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal published")
	}
	return types.Signal{}
}

func expectNone(t *testing.T, ch <-chan bus.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected signal: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoginSignatureVector(t *testing.T) {
	t.Parallel()

	got := LoginSignature("secret-1", "1700000000")
	want := "wKuUWMfrdLUlIsQJkgM5g9M/IFaUUBMiW25Lj+JvBTQ="
	if got != want {
		t.Errorf("LoginSignature = %q, want %q", got, want)
	}
}

func TestFillBecomesSignal(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)
	e.handleFrame(ctx, fillFrame("123", "BTC-USDT", "buy", "0.5", "40000"))

	sig := recvSignal(t, out)
	if sig.SignalID != "captain_123" {
		t.Errorf("SignalID = %q", sig.SignalID)
	}
	if sig.Symbol.Base != "BTC" || sig.Symbol.Quote != "USDT" {
		t.Errorf("Symbol = %v", sig.Symbol)
	}
	if sig.Action != types.BUY || sig.Source != types.SourceEye || sig.Risk != types.RiskNormal {
		t.Errorf("signal = %+v", sig)
	}
	if sig.USD != 20000 || sig.Price != 40000 {
		t.Errorf("USD = %v Price = %v", sig.USD, sig.Price)
	}
}

func TestRepeatedFillFramesProduceOneSignal(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)
	// OKX pushes an order row per state change; partial fills repeat the id.
	for i := 0; i < 3; i++ {
		e.handleFrame(ctx, fillFrame("456", "ETH-USDT", "sell", "1.0", "3000"))
	}

	sig := recvSignal(t, out)
	if sig.SignalID != "captain_456" || sig.Action != types.SELL {
		t.Errorf("signal = %+v", sig)
	}
	expectNone(t, out)
}

func TestDedupSurvivesReconnectReplay(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)
	e.handleFrame(ctx, fillFrame("789", "BTC-USDT", "buy", "0.1", "40000"))
	recvSignal(t, out)

	// A reconnect replays recent order states on the same Eye instance.
	// The dedup set is not reset between connections.
	e.handleFrame(ctx, fillFrame("789", "BTC-USDT", "buy", "0.1", "40000"))
	expectNone(t, out)

	// New orders after the reconnect still come through.
	e.handleFrame(ctx, fillFrame("790", "BTC-USDT", "buy", "0.2", "40000"))
	if sig := recvSignal(t, out); sig.SignalID != "captain_790" {
		t.Errorf("SignalID = %q", sig.SignalID)
	}
}

func TestNonFillFramesIgnored(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)

	frames := [][]byte{
		[]byte("pong"),
		[]byte(`{"event":"subscribe","arg":{"channel":"orders"}}`),
		[]byte(`{"arg":{"channel":"account"},"data":[{"ordId":"1"}]}`),
		// Placement without a fill: fillSz empty.
		[]byte(`{"arg":{"channel":"orders"},"data":[{"ordId":"2","instId":"BTC-USDT","side":"buy","fillSz":"","state":"live"}]}`),
		// Cancellation: fillSz zero.
		[]byte(`{"arg":{"channel":"orders"},"data":[{"ordId":"3","instId":"BTC-USDT","side":"buy","fillSz":"0","state":"canceled"}]}`),
		[]byte(`not json at all`),
	}
	for _, f := range frames {
		e.handleFrame(ctx, f)
	}
	expectNone(t, out)
}

func TestFillWithBadInstrumentDropped(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)
	e.handleFrame(ctx, fillFrame("999", "BTCUSDT", "buy", "0.5", "40000"))
	expectNone(t, out)
}

func TestMultipleFillsInOneFrame(t *testing.T) {
	t.Parallel()

	e, out, ctx := newTestEye(t)
	frame := `{"arg":{"channel":"orders"},"data":[
		{"ordId":"a1","instId":"BTC-USDT","side":"buy","fillSz":"0.1","avgPx":"40000","state":"filled"},
		{"ordId":"a2","instId":"ETH-USDT","side":"sell","fillSz":"2","avgPx":"3000","state":"filled"}
	]}`
	e.handleFrame(ctx, []byte(frame))

	first := recvSignal(t, out)
	second := recvSignal(t, out)
	if first.SignalID != "captain_a1" || second.SignalID != "captain_a2" {
		t.Errorf("signals = %q, %q", first.SignalID, second.SignalID)
	}
}
