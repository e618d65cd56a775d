// Package eye observes the captain's own OKX account over the private
// websocket and converts every fill into an intent signal.
//
// The eye logs in with the account credentials, subscribes to the spot
// orders channel and watches for partial or full fills. Each filled order
// becomes a Signal published on the captain signals channel, with the id
// "captain_<ordId>" so the same fill seen twice (replays after a reconnect,
// multiple partial-fill frames) is deduplicated both here and in the brain.
//
// The connection auto-reconnects with exponential backoff (floor configured,
// never below 3s) and a read deadline catches silent server failures. The
// dedup set survives reconnects; only a process restart clears it.
package eye

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"horus-core/internal/bus"
	"horus-core/internal/dedup"
	"horus-core/pkg/types"
)

const (
	pingInterval     = 20 * time.Second // OKX drops idle connections after 30s
	maxReconnectWait = 60 * time.Second
	writeTimeout     = 10 * time.Second
	loginTimeout     = 10 * time.Second
)

// Config tunes the eye.
type Config struct {
	URL              string        // private websocket endpoint
	Credentials      types.Credentials
	ReconnectBackoff time.Duration // initial backoff between reconnect attempts
	ReadTimeout      time.Duration // reconnect if no frame arrives within this window
}

// Eye is the captain observer. Create with New, drive with Run.
type Eye struct {
	cfg    Config
	bus    bus.Bus
	seen   *dedup.Set
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes
	logger *slog.Logger
}

// New creates an eye publishing to b.
func New(cfg Config, b bus.Bus, logger *slog.Logger) *Eye {
	return &Eye{
		cfg:    cfg,
		bus:    b,
		seen:   dedup.NewSet(dedup.DefaultCapacity),
		logger: logger.With("component", "eye"),
	}
}

// Run connects and maintains the websocket with auto-reconnect. Blocks until
// ctx is cancelled.
func (e *Eye) Run(ctx context.Context) error {
	backoff := e.cfg.ReconnectBackoff
	if backoff < 3*time.Second {
		backoff = 3 * time.Second
	}
	wait := backoff

	for {
		err := e.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (e *Eye) Close() error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Eye) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()

	defer func() {
		e.connMu.Lock()
		conn.Close()
		e.conn = nil
		e.connMu.Unlock()
	}()

	if err := e.login(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := e.subscribeOrders(); err != nil {
		return fmt.Errorf("subscribe orders: %w", err)
	}
	e.logger.Info("eye connected", "url", e.cfg.URL)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go e.pingLoop(pingCtx)

	readTimeout := e.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		e.handleFrame(ctx, msg)
	}
}

// LoginSignature computes the OKX websocket login signature for a unix
// timestamp in seconds: base64(HMAC-SHA256(secret, ts + "GET" +
// "/users/self/verify")).
func LoginSignature(secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "GET" + "/users/self/verify"))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (e *Eye) login() error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     e.cfg.Credentials.APIKey,
			"passphrase": e.cfg.Credentials.Passphrase,
			"timestamp":  ts,
			"sign":       LoginSignature(e.cfg.Credentials.Secret, ts),
		}},
	}
	if err := e.writeJSON(req); err != nil {
		return err
	}

	// OKX answers the login before any channel data; read synchronously.
	e.conn.SetReadDeadline(time.Now().Add(loginTimeout))
	_, msg, err := e.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	var resp struct {
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if resp.Event != "login" || resp.Code != "0" {
		return fmt.Errorf("login rejected: event=%s code=%s msg=%s", resp.Event, resp.Code, resp.Msg)
	}
	return nil
}

func (e *Eye) subscribeOrders() error {
	return e.writeJSON(map[string]any{
		"op": "subscribe",
		"args": []map[string]string{{
			"channel":  "orders",
			"instType": "SPOT",
		}},
	})
}

// orderFrame is the orders-channel push envelope.
type orderFrame struct {
	Event string `json:"event"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []orderRow `json:"data"`
}

type orderRow struct {
	OrdID  string `json:"ordId"`
	InstID string `json:"instId"`
	Side   string `json:"side"`
	FillSz string `json:"fillSz"`
	FillPx string `json:"fillPx"`
	AvgPx  string `json:"avgPx"`
	State  string `json:"state"`
}

// handleFrame routes one raw websocket frame. Split out from the read loop
// so fill conversion is testable without a live connection.
func (e *Eye) handleFrame(ctx context.Context, data []byte) {
	if string(data) == "pong" {
		return
	}

	var frame orderFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		e.logger.Debug("ignoring non-json frame", "data", string(data))
		return
	}
	if frame.Event != "" || frame.Arg.Channel != "orders" {
		// Subscription acks and other control events.
		return
	}

	for _, row := range frame.Data {
		e.handleFill(ctx, row)
	}
}

func (e *Eye) handleFill(ctx context.Context, row orderRow) {
	fillSz, err := strconv.ParseFloat(row.FillSz, 64)
	if err != nil || fillSz <= 0 {
		// Order updates without a fill (placement, cancellation).
		return
	}

	signalID := "captain_" + row.OrdID
	if e.seen.Seen(signalID) {
		e.logger.Debug("fill already observed", "signal_id", signalID)
		return
	}

	sym, err := types.ParseSymbol(row.InstID)
	if err != nil {
		e.logger.Warn("fill with unparseable instrument dropped", "inst_id", row.InstID)
		return
	}

	var action types.Action
	switch row.Side {
	case "buy":
		action = types.BUY
	case "sell":
		action = types.SELL
	default:
		e.logger.Warn("fill with unknown side dropped", "side", row.Side, "ord_id", row.OrdID)
		return
	}

	price := parsePrice(row.AvgPx, row.FillPx)
	sig := types.Signal{
		SignalID:  signalID,
		Symbol:    sym,
		Action:    action,
		Risk:      types.RiskNormal,
		Source:    types.SourceEye,
		USD:       fillSz * price,
		Price:     price,
		Timestamp: types.Now(),
	}
	if err := e.bus.Publish(ctx, bus.CaptainSignals, sig); err != nil {
		e.logger.Error("publish captain signal failed", "signal_id", signalID, "error", err)
		return
	}
	e.logger.Info("captain fill observed",
		"signal_id", signalID, "symbol", sym, "action", action, "usd", sig.USD)
}

// parsePrice prefers the average fill price, falling back to the last fill.
func parsePrice(avgPx, fillPx string) float64 {
	if p, err := strconv.ParseFloat(avgPx, 64); err == nil && p > 0 {
		return p
	}
	if p, err := strconv.ParseFloat(fillPx, 64); err == nil && p > 0 {
		return p
	}
	return 0
}

func (e *Eye) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.writeMessage(websocket.TextMessage, []byte("ping")); err != nil {
				e.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (e *Eye) writeJSON(v any) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return e.conn.WriteJSON(v)
}

func (e *Eye) writeMessage(msgType int, data []byte) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return e.conn.WriteMessage(msgType, data)
}
