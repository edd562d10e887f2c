package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of an observed fill. The set is closed:
// anything the feed reports that is not BUY or SELL becomes SideUnknown.
type TradeSide string

const (
	SideBuy     TradeSide = "BUY"
	SideSell    TradeSide = "SELL"
	SideUnknown TradeSide = "UNKNOWN"
)

// ParseTradeSide maps a wire value onto the closed TradeSide set.
func ParseTradeSide(s string) TradeSide {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideUnknown
	}
}

// EventState is the processing state of a TradeEvent.
type EventState string

const (
	StateNew      EventState = "new"
	StateInFlight EventState = "in_flight"
	StateExecuted EventState = "executed"
	StateSkipped  EventState = "skipped"
)

// Terminal reports whether no further transition is allowed.
func (s EventState) Terminal() bool {
	return s == StateExecuted || s == StateSkipped
}

// Valid reports whether s is one of the four known states.
func (s EventState) Valid() bool {
	switch s {
	case StateNew, StateInFlight, StateExecuted, StateSkipped:
		return true
	}
	return false
}

// ExecutionOutcome records why an event reached its terminal state.
type ExecutionOutcome string

const (
	OutcomeFilled           ExecutionOutcome = "filled"
	OutcomePartialBelowMin  ExecutionOutcome = "partially filled below minimum"
	OutcomeAbortSlippage    ExecutionOutcome = "aborted: slippage"
	OutcomeAbortNoLiquidity ExecutionOutcome = "aborted: no liquidity"
	OutcomeAbortRetries     ExecutionOutcome = "aborted: retries exhausted"
	OutcomeAbortShutdown    ExecutionOutcome = "aborted: shutdown"

	OutcomeSold         ExecutionOutcome = "sold"
	OutcomeSellRejected ExecutionOutcome = "aborted: sell rejected"

	OutcomeSkipPreview         ExecutionOutcome = "skipped: preview"
	OutcomeSkipTradingDisabled ExecutionOutcome = "skipped: trading disabled"
	OutcomeSkipSizedZero       ExecutionOutcome = "skipped: sized to zero"
	OutcomeSkipNoPosition      ExecutionOutcome = "skipped: no position"
	OutcomeSkipUnknownSide     ExecutionOutcome = "skipped: unknown side"
	OutcomeSkipError           ExecutionOutcome = "skipped: error"
	OutcomeSkipBackfill        ExecutionOutcome = "skipped: backfill"
)

// Resolution is the terminal write the execution engine makes for a claimed event.
type Resolution struct {
	State   EventState
	Outcome ExecutionOutcome
	Detail  string
	// Spent is the USDC the copy committed; zero when nothing traded.
	Spent decimal.Decimal
}

// TradeEvent is one fill observed on a watched address.
type TradeEvent struct {
	ID          string          `json:"id"`
	Address     string          `json:"address"`
	TxHash      string          `json:"tx_hash"`
	AssetID     string          `json:"asset_id"`
	ConditionID string          `json:"condition_id"`
	Side        TradeSide       `json:"side"`
	Size        decimal.Decimal `json:"size"`     // outcome tokens
	Notional    decimal.Decimal `json:"notional"` // USDC
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
	Title       string          `json:"title,omitempty"`
	Slug        string          `json:"slug,omitempty"`
	OutcomeName string          `json:"outcome,omitempty"`

	State     EventState       `json:"state"`
	Attempts  int              `json:"attempts"`
	Outcome   ExecutionOutcome `json:"result,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NormalizeAddress lower-cases and trims an address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
