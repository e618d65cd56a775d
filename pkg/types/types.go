// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the dispatcher - trading signals,
// demand and wave packets, execution results, and the client/settings records
// read from the registry. It has no dependencies on internal packages, so it
// can be imported by any layer. All wire structs carry the JSON field names
// used on the bus; changing a tag here is a protocol change.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Core enums
// ---------------------------------------------------------------------------

// Action is the trading instruction carried by a signal.
type Action string

const (
	BUY    Action = "BUY"
	SELL   Action = "SELL"
	CLOSE  Action = "CLOSE"
	CANCEL Action = "CANCEL"
)

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case BUY, SELL, CLOSE, CANCEL:
		return true
	}
	return false
}

// Risk classifies a signal: NORMAL goes straight to the fleet, RISKY is
// routed through the smart entry engine for liquidity-aware wave planning.
type Risk string

const (
	RiskNormal Risk = "NORMAL"
	RiskRisky  Risk = "RISKY"
)

// Source identifies where an intent signal originated.
type Source string

const (
	SourceConsole Source = "CAPTAIN_CONSOLE"
	SourceEye     Source = "CAPTAIN_EYE"
)

// Exchange identifies a supported venue. Lowercase on the wire.
type Exchange string

const (
	OKX     Exchange = "okx"
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
)

// Known reports whether e is one of the supported exchanges.
func (e Exchange) Known() bool {
	switch e {
	case OKX, Binance, Bybit:
		return true
	}
	return false
}

// PacketType distinguishes execution packets on the fleet-command channel.
type PacketType string

const (
	PacketNormal PacketType = "NORMAL"
	PacketRisky  PacketType = "RISKY"
	PacketWave   PacketType = "SMART_WAVE"
)

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// Symbol is a parsed trading pair. The canonical wire form is "BASE/QUOTE";
// exchange-native spellings (BTC-USDT, BTCUSDT) are renderings of this type,
// never the source of truth, so the base asset is always recoverable even
// though the concatenated Binance/Bybit form is one-way.
type Symbol struct {
	Base  string
	Quote string
}

// ParseSymbol parses a canonical "BASE/QUOTE" pair. The OKX-native
// "BASE-QUOTE" spelling is accepted too, since that is what the Eye sees in
// instId fields.
func ParseSymbol(s string) (Symbol, error) {
	sep := "/"
	if !strings.Contains(s, "/") && strings.Contains(s, "-") {
		sep = "-"
	}
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("invalid symbol %q", s)
	}
	return Symbol{Base: parts[0], Quote: parts[1]}, nil
}

// String returns the canonical "BASE/QUOTE" form.
func (s Symbol) String() string { return s.Base + "/" + s.Quote }

// Dash returns the OKX-native "BASE-QUOTE" form.
func (s Symbol) Dash() string { return s.Base + "-" + s.Quote }

// Concat returns the Binance/Bybit-native "BASEQUOTE" form.
func (s Symbol) Concat() string { return s.Base + s.Quote }

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool { return s.Base == "" && s.Quote == "" }

// MarshalJSON renders the canonical form.
func (s Symbol) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the canonical form. An empty string yields the zero
// Symbol so a malformed signal is rejected by the Brain's validation instead
// of failing the whole frame decode.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = Symbol{}
		return nil
	}
	parsed, err := ParseSymbol(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Signals and packets
// ---------------------------------------------------------------------------

// Signal is a trading intent before client fan-out. SignalID is unique and
// idempotent: the Brain drops duplicates, and the Eye guarantees at-most-once
// emission per observed fill.
type Signal struct {
	SignalID  string  `json:"signal_id"`
	Symbol    Symbol  `json:"symbol"`
	Action    Action  `json:"action"`
	Risk      Risk    `json:"risk"`
	Source    Source  `json:"source"`
	USD       float64 `json:"usd,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

// ExchangeDemand is one exchange's slice of a RISKY demand packet. The
// redundant Exchange field is preserved for wire compatibility with the
// deployed consumers.
type ExchangeDemand struct {
	ClientDemands map[string]float64 `json:"client_demands"`
	Exchange      Exchange           `json:"exchange"`
}

// DemandPacket is the Brain's post-resolution output: how much USD each
// eligible client commits, grouped by exchange. NORMAL packets carry
// PerExchange and go to the fleet; RISKY packets carry Demand and go to the
// smart entry engine. Every referenced client was eligible at resolution
// time and every amount is > 0.
type DemandPacket struct {
	Type        PacketType                      `json:"type"`
	SignalID    string                          `json:"signal_id"`
	Symbol      Symbol                          `json:"symbol"`
	Action      Action                          `json:"action"`
	PerExchange map[Exchange]map[string]float64 `json:"per_exchange,omitempty"`
	Demand      map[Exchange]ExchangeDemand     `json:"demand,omitempty"`
	Timestamp   float64                         `json:"timestamp"`
}

// WavePacket is one slice of a risky entry: a single exchange, a single wave
// index, per-client USD amounts already reduced by available liquidity and
// scaled by the wave weight.
type WavePacket struct {
	Type      PacketType         `json:"type"`
	SignalID  string             `json:"signal_id"` // "<parent>_wave<i>_<exchange>"
	Parent    string             `json:"parent"`
	Symbol    Symbol             `json:"symbol"`
	Action    Action             `json:"action"`
	Exchange  Exchange           `json:"exchange"`
	WaveIndex int                `json:"wave_index"` // 1-based
	PerClient map[string]float64 `json:"per_client_amount_usd"`
	Timestamp float64            `json:"timestamp"`
}

// WaveID builds the deterministic per-wave signal id.
func WaveID(parent string, wave int, ex Exchange) string {
	return fmt.Sprintf("%s_wave%d_%s", parent, wave, ex)
}

// ExecutionResult records the outcome of one client's order. Status is
// "executed" or "failed"; Reason carries the failure cause or a benign note
// such as "nothing_to_close".
type ExecutionResult struct {
	ClientID string    `json:"client_id"`
	Symbol   Symbol    `json:"symbol"`
	Amount   float64   `json:"amount"`
	Price    float64   `json:"price,omitempty"`
	Exchange Exchange  `json:"exchange"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

const (
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

// ---------------------------------------------------------------------------
// Registry records
// ---------------------------------------------------------------------------

// Credentials is a client's API key set. Passphrase is only used by OKX.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Client is a follower account as stored by the operator tools. The core
// reads these records and never writes them. BalanceUSDT is a declared
// figure, not a live balance.
type Client struct {
	ClientID    string    `bson:"client_id"`
	Exchange    Exchange  `bson:"exchange"`
	APIKey      string    `bson:"api_key"`
	APISecret   string    `bson:"api_secret"`
	ExtraPass   string    `bson:"extra_password,omitempty"`
	BalanceUSDT float64   `bson:"balance_usdt"`
	Allocation  float64   `bson:"allocation"`   // percent of balance per signal
	SpreadLimit float64   `bson:"spread_limit"` // percent
	Active      bool      `bson:"active"`
	Approved    bool      `bson:"approved"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Eligible reports whether the client may receive signal dispatch.
func (c Client) Eligible() bool {
	return c.Active && c.Approved && c.BalanceUSDT > 0
}

// Credentials returns the client's API key set.
func (c Client) Credentials() Credentials {
	return Credentials{APIKey: c.APIKey, Secret: c.APISecret, Passphrase: c.ExtraPass}
}

// CaptainSettings is the singleton settings record keyed by captain id
// ("master"). Registry implementations apply DefaultSettings values for any
// field missing from the stored document.
type CaptainSettings struct {
	CaptainID         string  `bson:"captain_id"`
	CommissionPercent float64 `bson:"commission_percent"`
	SpreadLimit       float64 `bson:"spread_limit"`
	SmartEntry        bool    `bson:"smart_entry"`
	Notifications     bool    `bson:"notifications"`
	RiskyMode         bool    `bson:"risky_mode"`

	AlertEntry      bool `bson:"alert_entry"`
	AlertFail       bool `bson:"alert_fail"`
	AlertSpread     bool `bson:"alert_spread"`
	AlertSmart      bool `bson:"alert_smart"`
	AlertWave       bool `bson:"alert_wave"`
	AlertNewClient  bool `bson:"alert_new_client"`
	AlertClientStop bool `bson:"alert_client_stop"`
}

// DefaultSettings returns the documented defaults for a captain with no
// stored settings: everything enabled, 10% commission, 1% spread limit.
func DefaultSettings(captainID string) CaptainSettings {
	return CaptainSettings{
		CaptainID:         captainID,
		CommissionPercent: 10,
		SpreadLimit:       1.0,
		SmartEntry:        true,
		Notifications:     true,
		RiskyMode:         true,
		AlertEntry:        true,
		AlertFail:         true,
		AlertSpread:       true,
		AlertSmart:        true,
		AlertWave:         true,
		AlertNewClient:    true,
		AlertClientStop:   true,
	}
}

// Now returns the current time as a wire timestamp (unix seconds).
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
