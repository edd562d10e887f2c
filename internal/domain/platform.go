package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Feed reads public activity and positions of arbitrary addresses.
type Feed interface {
	GetActivity(ctx context.Context, address string, kind string, limit int) ([]TradeEvent, error)
	GetPositions(ctx context.Context, address string) ([]PositionSnapshot, error)
}

// LeaderboardSource returns the public trader leaderboard for a period.
type LeaderboardSource interface {
	GetLeaderboard(ctx context.Context, period string) ([]LeaderboardEntry, error)
}

// OrderClient talks to the order-matching venue on behalf of the operator.
type OrderClient interface {
	DeriveCredentials(ctx context.Context) (Credentials, error)
	GetOrderBook(ctx context.Context, assetID string) (OrderBook, error)
	PostOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// Balance returns the operator's spendable collateral in USDC.
	Balance(ctx context.Context) (decimal.Decimal, error)
}
