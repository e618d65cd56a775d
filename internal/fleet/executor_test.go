package fleet

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"horus-core/internal/alert"
	"horus-core/internal/bus"
	"horus-core/internal/registry"
	"horus-core/internal/soldier"
	"horus-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// call records one soldier invocation.
type call struct {
	clientID string
	action   types.Action
	usd      float64
}

// stubSoldier executes instantly; failFor makes named clients fail and
// closeEmpty makes Close report nothing to close.
type stubFleet struct {
	mu         sync.Mutex
	calls      []call
	failFor    map[string]bool
	closeEmpty bool

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
}

func (f *stubFleet) factory(client types.Client) (soldier.Soldier, error) {
	return &stubSoldier{fleet: f, client: client}, nil
}

func (f *stubFleet) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

type stubSoldier struct {
	fleet  *stubFleet
	client types.Client
}

func (s *stubSoldier) run(action types.Action, usd float64) types.ExecutionResult {
	f := s.fleet
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inFlight.Add(-1)

	f.record(call{clientID: s.client.ClientID, action: action, usd: usd})

	res := types.ExecutionResult{
		ClientID: s.client.ClientID,
		Exchange: s.client.Exchange,
		Amount:   usd,
		Status:   types.StatusExecuted,
		Time:     time.Now().UTC(),
	}
	if f.failFor[s.client.ClientID] {
		res.Status = types.StatusFailed
		res.Reason = "rejected: insufficient balance"
	}
	if action == types.CLOSE && f.closeEmpty {
		res.Reason = soldier.ReasonNothingToClose
	}
	return res
}

func (s *stubSoldier) Buy(_ context.Context, _ types.Symbol, usd float64) types.ExecutionResult {
	return s.run(types.BUY, usd)
}
func (s *stubSoldier) Sell(_ context.Context, _ types.Symbol, usd float64) types.ExecutionResult {
	return s.run(types.SELL, usd)
}
func (s *stubSoldier) Close(_ context.Context, _ types.Symbol) types.ExecutionResult {
	return s.run(types.CLOSE, 0)
}

type stubJournal struct {
	mu   sync.Mutex
	recs []types.ExecutionResult
}

func (j *stubJournal) RecordExecution(res types.ExecutionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, res)
	return nil
}

func (j *stubJournal) byClient() map[string]types.ExecutionResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]types.ExecutionResult, len(j.recs))
	for _, r := range j.recs {
		out[r.ClientID] = r
	}
	return out
}

type harness struct {
	exec    *Executor
	fleet   *stubFleet
	journal *stubJournal
	alerts  <-chan bus.Message
	ctx     context.Context
}

func newHarness(t *testing.T, maxConcurrent int64, clients ...types.Client) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewMemory()
	reg := registry.NewMemory(clients...)
	alerts, err := b.Subscribe(ctx, bus.Alerts)
	if err != nil {
		t.Fatal(err)
	}

	fl := &stubFleet{failFor: map[string]bool{}}
	journal := &stubJournal{}
	notifier := alert.NewNotifier(b, reg, "master", testLogger())
	exec := New(b, reg, fl.factory, journal, notifier, Config{MaxConcurrent: maxConcurrent}, testLogger())
	return &harness{exec: exec, fleet: fl, journal: journal, alerts: alerts, ctx: ctx}
}

func (h *harness) alertKinds(t *testing.T) map[alert.Kind]int {
	t.Helper()
	kinds := make(map[alert.Kind]int)
	for {
		select {
		case msg := <-h.alerts:
			var ev alert.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				t.Fatal(err)
			}
			kinds[ev.Kind]++
		case <-time.After(50 * time.Millisecond):
			return kinds
		}
	}
}

func activeClient(id string, ex types.Exchange) types.Client {
	return types.Client{
		ClientID: id, Exchange: ex, APIKey: "k", APISecret: "s",
		BalanceUSDT: 1000, Allocation: 10, Active: true, Approved: true,
	}
}

func normalPacket(id string, action types.Action, perExchange map[types.Exchange]map[string]float64) []byte {
	pkt := types.DemandPacket{
		Type:        types.PacketNormal,
		SignalID:    id,
		Symbol:      types.Symbol{Base: "BTC", Quote: "USDT"},
		Action:      action,
		PerExchange: perExchange,
		Timestamp:   types.Now(),
	}
	data, _ := json.Marshal(pkt)
	return data
}

func TestNormalPacketFansOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16,
		activeClient("c1", types.OKX),
		activeClient("c2", types.OKX),
		activeClient("c3", types.Binance),
	)

	h.exec.Handle(h.ctx, normalPacket("sig-1", types.BUY, map[types.Exchange]map[string]float64{
		types.OKX:     {"c1": 100, "c2": 200},
		types.Binance: {"c3": 300},
	}))

	recs := h.journal.byClient()
	if len(recs) != 3 {
		t.Fatalf("journaled %d results, want 3", len(recs))
	}
	if recs["c1"].Amount != 100 || recs["c3"].Amount != 300 {
		t.Errorf("amounts = %v, %v", recs["c1"].Amount, recs["c3"].Amount)
	}
	for id, r := range recs {
		if r.Status != types.StatusExecuted {
			t.Errorf("%s status = %s", id, r.Status)
		}
	}
	if kinds := h.alertKinds(t); kinds[alert.KindEntry] != 3 || kinds[alert.KindFail] != 0 {
		t.Errorf("alert kinds = %v", kinds)
	}
}

func TestClientFailureIsIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16,
		activeClient("good-1", types.OKX),
		activeClient("bad", types.OKX),
		activeClient("good-2", types.OKX),
	)
	h.fleet.failFor["bad"] = true

	h.exec.Handle(h.ctx, normalPacket("sig-2", types.SELL, map[types.Exchange]map[string]float64{
		types.OKX: {"good-1": 100, "bad": 100, "good-2": 100},
	}))

	recs := h.journal.byClient()
	if recs["good-1"].Status != types.StatusExecuted || recs["good-2"].Status != types.StatusExecuted {
		t.Error("healthy clients affected by neighbor failure")
	}
	if recs["bad"].Status != types.StatusFailed {
		t.Errorf("bad status = %s", recs["bad"].Status)
	}
	kinds := h.alertKinds(t)
	if kinds[alert.KindEntry] != 2 || kinds[alert.KindFail] != 1 {
		t.Errorf("alert kinds = %v", kinds)
	}
}

func TestWavePacketDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16,
		activeClient("c1", types.OKX),
		activeClient("c2", types.OKX),
	)

	pkt := types.WavePacket{
		Type:      types.PacketWave,
		SignalID:  types.WaveID("parent-1", 2, types.OKX),
		Parent:    "parent-1",
		Symbol:    types.Symbol{Base: "ETH", Quote: "USDT"},
		Action:    types.BUY,
		Exchange:  types.OKX,
		WaveIndex: 2,
		PerClient: map[string]float64{"c1": 60, "c2": 40},
		Timestamp: types.Now(),
	}
	data, _ := json.Marshal(pkt)
	h.exec.Handle(h.ctx, data)

	recs := h.journal.byClient()
	if len(recs) != 2 {
		t.Fatalf("journaled %d results, want 2", len(recs))
	}
	if recs["c1"].Amount != 60 || recs["c2"].Amount != 40 {
		t.Errorf("amounts = %v, %v", recs["c1"].Amount, recs["c2"].Amount)
	}
}

func TestZeroAmountJobSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16, activeClient("c1", types.OKX), activeClient("c2", types.OKX))

	h.exec.Handle(h.ctx, normalPacket("sig-3", types.BUY, map[types.Exchange]map[string]float64{
		types.OKX: {"c1": 0, "c2": 100},
	}))

	recs := h.journal.byClient()
	if _, ok := recs["c1"]; ok {
		t.Error("zero-amount job executed")
	}
	if recs["c2"].Status != types.StatusExecuted {
		t.Error("nonzero job missing")
	}
}

func TestCloseWithNoPositionIsSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16, activeClient("c1", types.OKX))
	h.fleet.closeEmpty = true

	// CLOSE ignores amounts: zero-amount entries still run.
	h.exec.Handle(h.ctx, normalPacket("sig-4", types.CLOSE, map[types.Exchange]map[string]float64{
		types.OKX: {"c1": 0},
	}))

	recs := h.journal.byClient()
	res, ok := recs["c1"]
	if !ok {
		t.Fatal("close not executed")
	}
	if res.Status != types.StatusExecuted || res.Reason != soldier.ReasonNothingToClose {
		t.Errorf("result = %+v", res)
	}
	if kinds := h.alertKinds(t); kinds[alert.KindFail] != 0 {
		t.Error("benign close raised a fail alert")
	}
}

func TestUnknownClientFailsWithoutCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 16, activeClient("c1", types.OKX))

	h.exec.Handle(h.ctx, normalPacket("sig-5", types.BUY, map[types.Exchange]map[string]float64{
		types.OKX: {"c1": 100, "ghost": 100},
	}))

	recs := h.journal.byClient()
	if recs["ghost"].Status != types.StatusFailed {
		t.Errorf("ghost result = %+v", recs["ghost"])
	}
	if recs["c1"].Status != types.StatusExecuted {
		t.Error("healthy client affected")
	}
	for _, c := range h.fleet.calls {
		if c.clientID == "ghost" {
			t.Error("soldier invoked for unknown client")
		}
	}
}

func TestConcurrencyCapRespected(t *testing.T) {
	t.Parallel()

	clients := make([]types.Client, 0, 8)
	perClient := map[string]float64{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		clients = append(clients, activeClient(id, types.OKX))
		perClient[id] = 100
	}
	h := newHarness(t, 2, clients...)
	h.fleet.delay = 10 * time.Millisecond

	h.exec.Handle(h.ctx, normalPacket("sig-6", types.BUY, map[types.Exchange]map[string]float64{
		types.OKX: perClient,
	}))

	if got := h.fleet.maxInFlight.Load(); got > 2 {
		t.Errorf("max in-flight = %d, cap 2", got)
	}
	if len(h.journal.byClient()) != 8 {
		t.Error("not all jobs completed")
	}
}
