package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// flexInt unmarshals from a JSON number or a numeric string; the leaderboard
// sends rank as "1".
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity is one entry of GET /activity.
type APIActivity struct {
	ProxyWallet     string          `json:"proxyWallet"`
	Timestamp       int64           `json:"timestamp"`
	ConditionID     string          `json:"conditionId"`
	Type            string          `json:"type"`
	Size            decimal.Decimal `json:"size"`
	UsdcSize        decimal.Decimal `json:"usdcSize"`
	TransactionHash string          `json:"transactionHash"`
	Price           decimal.Decimal `json:"price"`
	Asset           string          `json:"asset"`
	Side            string          `json:"side"`
	OutcomeIndex    int             `json:"outcomeIndex"`
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	EventSlug       string          `json:"eventSlug"`
	Outcome         string          `json:"outcome"`
}

// ToDomain converts the activity into a TradeEvent owned by address.
func (a *APIActivity) ToDomain(address string) domain.TradeEvent {
	notional := a.UsdcSize
	if notional.IsZero() {
		notional = a.Size.Mul(a.Price)
	}
	return domain.TradeEvent{
		Address:     domain.NormalizeAddress(address),
		TxHash:      strings.ToLower(a.TransactionHash),
		AssetID:     a.Asset,
		ConditionID: a.ConditionID,
		Side:        domain.ParseTradeSide(a.Side),
		Size:        a.Size,
		Notional:    notional,
		Price:       a.Price,
		Timestamp:   time.Unix(a.Timestamp, 0).UTC(),
		Title:       a.Title,
		Slug:        a.Slug,
		OutcomeName: a.Outcome,
	}
}

// APIPosition is one entry of GET /positions.
type APIPosition struct {
	ProxyWallet  string          `json:"proxyWallet"`
	Asset        string          `json:"asset"`
	ConditionID  string          `json:"conditionId"`
	Size         decimal.Decimal `json:"size"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	InitialValue decimal.Decimal `json:"initialValue"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	CashPnl      decimal.Decimal `json:"cashPnl"`
	PercentPnl   decimal.Decimal `json:"percentPnl"`
	RealizedPnl  decimal.Decimal `json:"realizedPnl"`
	CurPrice     decimal.Decimal `json:"curPrice"`
	Redeemable   bool            `json:"redeemable"`
	Title        string          `json:"title"`
	Outcome      string          `json:"outcome"`
}

// ToDomain converts the position into a snapshot owned by address.
func (p *APIPosition) ToDomain(address string, now time.Time) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		Address:      domain.NormalizeAddress(address),
		AssetID:      p.Asset,
		ConditionID:  p.ConditionID,
		Size:         p.Size,
		AvgPrice:     p.AvgPrice,
		CurPrice:     p.CurPrice,
		InitialValue: p.InitialValue,
		CurrentValue: p.CurrentValue,
		CashPnL:      p.CashPnl,
		PercentPnL:   p.PercentPnl,
		RealizedPnL:  p.RealizedPnl,
		Redeemable:   p.Redeemable,
		Title:        p.Title,
		OutcomeName:  p.Outcome,
		UpdatedAt:    now,
	}
}

// APILeaderboardEntry is one row of GET /v1/leaderboard.
type APILeaderboardEntry struct {
	Rank          flexInt         `json:"rank"`
	ProxyWallet   string          `json:"proxyWallet"`
	UserName      string          `json:"userName"`
	Vol           decimal.Decimal `json:"vol"`
	Pnl           decimal.Decimal `json:"pnl"`
	ProfileImage  string          `json:"profileImage"`
	XUsername     string          `json:"xUsername"`
	VerifiedBadge bool            `json:"verifiedBadge"`
}

// ToDomain converts the row into a LeaderboardEntry.
func (e *APILeaderboardEntry) ToDomain() domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Rank:          int(e.Rank),
		ProxyWallet:   e.ProxyWallet,
		UserName:      e.UserName,
		Volume:        e.Vol,
		PnL:           e.Pnl,
		ProfileImage:  e.ProfileImage,
		XUsername:     e.XUsername,
		VerifiedBadge: e.VerifiedBadge,
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is a price level in GET /book. Values arrive as strings.
type APIBookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// APIBook is the response of GET /book.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// ToDomain converts the book, dropping empty levels.
func (b *APIBook) ToDomain() domain.OrderBook {
	book := domain.OrderBook{AssetID: b.AssetID}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ms).UTC()
	}
	for _, l := range b.Bids {
		if l.Size.IsPositive() {
			book.Bids = append(book.Bids, domain.BookLevel{Price: l.Price, Size: l.Size})
		}
	}
	for _, l := range b.Asks {
		if l.Size.IsPositive() {
			book.Asks = append(book.Asks, domain.BookLevel{Price: l.Price, Size: l.Size})
		}
	}
	return book
}

// APIOrder is the signed order body of POST /order.
type APIOrder struct {
	Salt          uint64 `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// APIPostOrderRequest wraps a signed order with its owner and time in force.
type APIPostOrderRequest struct {
	Order     APIOrder `json:"order"`
	Owner     string   `json:"owner"`
	OrderType string   `json:"orderType"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ToDomain converts the API response.
func (r *APIOrderResult) ToDomain() domain.OrderResult {
	return domain.OrderResult{
		Success: r.Success && r.ErrorMsg == "",
		OrderID: r.OrderID,
		Status:  r.Status,
		Message: r.ErrorMsg,
	}
}

// APICredentials is the response of the api-key endpoints.
type APICredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// APIBalanceAllowance is the response of GET /balance-allowance.
type APIBalanceAllowance struct {
	Balance decimal.Decimal `json:"balance"`
}
