package polymarket

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/crypto"
	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// usdcDecimals is the fixed-point scale of both collateral and outcome tokens.
const usdcDecimals = 6

// ClobConfig configures a ClobClient.
type ClobConfig struct {
	BaseURL string
	Signer  *crypto.Signer
	// Funder is the proxy wallet holding collateral; it is the order maker.
	Funder        string
	SignatureType int
	Timeout       time.Duration
}

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API: key derivation, order books, order placement and balance.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	funder        common.Address
	signatureType int
	now           func() time.Time

	mu   sync.RWMutex
	auth *crypto.L2Auth
}

var _ domain.OrderClient = (*ClobClient)(nil)

// NewClobClient creates a new CLOB REST client. Authenticated calls fail with
// domain.ErrTradingDisabled until DeriveCredentials succeeds.
func NewClobClient(cfg ClobConfig) *ClobClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	funder := common.HexToAddress(cfg.Funder)
	if cfg.Funder == "" && cfg.Signer != nil {
		funder = cfg.Signer.Address()
	}
	return &ClobClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		signer:        cfg.Signer,
		funder:        funder,
		signatureType: cfg.SignatureType,
		now:           time.Now,
	}
}

// DeriveCredentials runs the L1 auth flow: it signs a ClobAuth message and
// derives the API key, creating one when none exists yet.
func (c *ClobClient) DeriveCredentials(ctx context.Context) (domain.Credentials, error) {
	if c.signer == nil {
		return domain.Credentials{}, fmt.Errorf("polymarket/clob: %w: no signing key", domain.ErrUnauthorized)
	}

	creds, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if errors.Is(err, domain.ErrNotFound) || isStatus(err, http.StatusBadRequest) {
		creds, err = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("polymarket/clob: derive credentials: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return domain.Credentials{}, fmt.Errorf("polymarket/clob: derive credentials: %w: empty api key", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.auth = &crypto.L2Auth{Key: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
	c.mu.Unlock()

	return domain.Credentials{APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}, nil
}

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (APICredentials, error) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	const nonce = 0
	sig, err := c.signer.SignAuth(ts, nonce)
	if err != nil {
		return APICredentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return APICredentials{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", strconv.Itoa(nonce))

	body, err := do(c.httpClient, req)
	if err != nil {
		return APICredentials{}, err
	}
	var creds APICredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return APICredentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// GetOrderBook returns the current book for assetID. It is a public endpoint.
func (c *ClobClient) GetOrderBook(ctx context.Context, assetID string) (domain.OrderBook, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/book?token_id="+url.QueryEscape(assetID), nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: create book request: %w", err)
	}
	body, err := do(c.httpClient, req)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", assetID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	out := book.ToDomain()
	if out.AssetID == "" {
		out.AssetID = assetID
	}
	return out, nil
}

// PostOrder signs and submits an order. A response with success=false is
// returned together with an error.
func (c *ClobClient) PostOrder(ctx context.Context, r domain.OrderRequest) (domain.OrderResult, error) {
	auth, err := c.credentials()
	if err != nil {
		return domain.OrderResult{}, err
	}
	order, err := c.buildOrder(r)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}

	orderType := r.Type
	if orderType == "" {
		orderType = domain.OrderTypeFOK
	}
	payload := APIPostOrderRequest{Order: order, Owner: auth.Key, OrderType: string(orderType)}

	respBody, err := c.doAuthenticated(ctx, auth, http.MethodPost, "/order", "", payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	result := apiResult.ToDomain()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: %w: order rejected: %s", domain.ErrInvalidOrder, result.Message)
	}
	return result, nil
}

// Balance returns the operator's collateral (USDC) balance.
func (c *ClobClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	auth, err := c.credentials()
	if err != nil {
		return decimal.Zero, err
	}
	q := url.Values{}
	q.Set("asset_type", "COLLATERAL")
	q.Set("signature_type", strconv.Itoa(c.signatureType))

	body, err := c.doAuthenticated(ctx, auth, http.MethodGet, "/balance-allowance", q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: balance: %w", err)
	}
	var ba APIBalanceAllowance
	if err := json.Unmarshal(body, &ba); err != nil {
		return decimal.Zero, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	return ba.Balance.Shift(-usdcDecimals), nil
}

// buildOrder converts a request into a signed exchange order. BUY gives USDC
// (maker) for tokens (taker); SELL the reverse.
func (c *ClobClient) buildOrder(r domain.OrderRequest) (APIOrder, error) {
	if c.signer == nil {
		return APIOrder{}, domain.ErrTradingDisabled
	}
	if !r.Size.IsPositive() || !r.Price.IsPositive() || r.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return APIOrder{}, fmt.Errorf("%w: size %s price %s", domain.ErrInvalidOrder, r.Size, r.Price)
	}
	tokenID, ok := new(big.Int).SetString(r.AssetID, 10)
	if !ok {
		return APIOrder{}, fmt.Errorf("%w: token id %q", domain.ErrInvalidOrder, r.AssetID)
	}

	tokens := r.Size.Truncate(2)
	usdc := tokens.Mul(r.Price).Truncate(4)
	var side uint8
	makerAmt, takerAmt := usdc, tokens
	if r.Side == domain.OrderSideSell {
		side = 1
		makerAmt, takerAmt = tokens, usdc
	}
	if !makerAmt.IsPositive() || !takerAmt.IsPositive() {
		return APIOrder{}, fmt.Errorf("%w: amounts round to zero", domain.ErrInvalidOrder)
	}

	id := uuid.New()
	signed := domain.SignedOrder{
		Salt:          new(big.Int).SetUint64(binary.BigEndian.Uint64(id[:8]) >> 11),
		Maker:         c.funder.Hex(),
		Signer:        c.signer.Address().Hex(),
		Taker:         common.Address{}.Hex(),
		TokenID:       tokenID,
		MakerAmount:   makerAmt.Shift(usdcDecimals).BigInt(),
		TakerAmount:   takerAmt.Shift(usdcDecimals).BigInt(),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          side,
		SignatureType: uint8(c.signatureType),
	}
	sig, err := c.signer.SignOrder(signed)
	if err != nil {
		return APIOrder{}, err
	}

	return APIOrder{
		Salt:          signed.Salt.Uint64(),
		Maker:         signed.Maker,
		Signer:        signed.Signer,
		Taker:         signed.Taker,
		TokenID:       signed.TokenID.String(),
		MakerAmount:   signed.MakerAmount.String(),
		TakerAmount:   signed.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(r.Side),
		SignatureType: c.signatureType,
		Signature:     sig,
	}, nil
}

func (c *ClobClient) credentials() (crypto.L2Auth, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.auth == nil {
		return crypto.L2Auth{}, fmt.Errorf("polymarket/clob: %w: credentials not derived", domain.ErrTradingDisabled)
	}
	return *c.auth, nil
}

// doAuthenticated builds, signs (HMAC), sends, and reads an HTTP request
// against the CLOB API. The query string is not part of the signed path.
func (c *ClobClient) doAuthenticated(ctx context.Context, auth crypto.L2Auth, method, path, query string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyBytes = b
	}

	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range auth.Headers(c.signer.Address().Hex(), method, path, string(bodyBytes), c.now().Unix()) {
		req.Header.Set(k, v)
	}
	return do(c.httpClient, req)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}
