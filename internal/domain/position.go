package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is the latest known holding of an address in one asset.
// Keyed by (Address, AssetID, ConditionID).
type PositionSnapshot struct {
	Address      string          `json:"address"`
	AssetID      string          `json:"asset_id"`
	ConditionID  string          `json:"condition_id"`
	Size         decimal.Decimal `json:"size"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurPrice     decimal.Decimal `json:"cur_price"`
	InitialValue decimal.Decimal `json:"initial_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	CashPnL      decimal.Decimal `json:"cash_pnl"`
	PercentPnL   decimal.Decimal `json:"percent_pnl"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Redeemable   bool            `json:"redeemable"`
	Title        string          `json:"title,omitempty"`
	OutcomeName  string          `json:"outcome,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Notional returns the USDC value of the holding, preferring the feed's
// currentValue and falling back to size at the current price.
func (p PositionSnapshot) Notional() decimal.Decimal {
	if p.CurrentValue.IsPositive() {
		return p.CurrentValue
	}
	return p.Size.Mul(p.CurPrice)
}

// WatchEntry is an address whose trades are copied.
type WatchEntry struct {
	Address      string     `json:"address"`
	Name         string     `json:"name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	BackfilledAt *time.Time `json:"backfilled_at,omitempty"`
}

// Backfilled reports whether historical activity has been marked skipped.
func (w WatchEntry) Backfilled() bool {
	return w.BackfilledAt != nil
}

// LeaderboardEntry is one row of the public trader leaderboard.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	ProxyWallet   string          `json:"proxyWallet"`
	UserName      string          `json:"userName"`
	Volume        decimal.Decimal `json:"vol"`
	PnL           decimal.Decimal `json:"pnl"`
	ProfileImage  string          `json:"profileImage,omitempty"`
	XUsername     string          `json:"xUsername,omitempty"`
	VerifiedBadge bool            `json:"verifiedBadge"`
}
