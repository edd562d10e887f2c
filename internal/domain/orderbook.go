package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is a single price+size entry in an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a snapshot of bids and asks for one asset.
type OrderBook struct {
	AssetID   string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestAsk returns the lowest ask regardless of how the levels are ordered.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	best := b.Asks[0]
	for _, l := range b.Asks[1:] {
		if l.Price.LessThan(best.Price) {
			best = l
		}
	}
	return best, true
}

// BestBid returns the highest bid regardless of how the levels are ordered.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	best := b.Bids[0]
	for _, l := range b.Bids[1:] {
		if l.Price.GreaterThan(best.Price) {
			best = l
		}
	}
	return best, true
}
