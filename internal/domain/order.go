package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderRequest is what the execution engine asks the order client to submit.
type OrderRequest struct {
	AssetID string
	Side    OrderSide
	Size    decimal.Decimal // outcome tokens
	Price   decimal.Decimal
	Type    OrderType
}

// Notional is size times price in USDC.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Size.Mul(r.Price)
}

// SignedOrder is the CTF exchange order payload after signing.
type SignedOrder struct {
	Salt          *big.Int
	Maker         string
	Signer        string
	Taker         string
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8 // 0 buy, 1 sell
	SignatureType uint8
	Signature     string
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string
	Message string
}

// Credentials are the L2 API credentials derived from the wallet key.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}
