package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)

	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

const (
	authDomainName     = "ClobAuthDomain"
	exchangeDomainName = "Polymarket CTF Exchange"
	domainVersion      = "1"

	// ClobAuthMessage is the fixed attestation string in every ClobAuth payload.
	ClobAuthMessage = "This message attests that I control the given wallet"
)

// Signer produces EIP-712 signatures for CLOB authentication and orders.
type Signer struct {
	privateKey  *ecdsa.PrivateKey
	address     common.Address
	authSep     []byte
	exchangeSep []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, the
// target chain ID (137 for Polygon mainnet) and the CTF exchange contract.
func NewSigner(privateKeyHex string, chainID int, exchange string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if !common.IsHexAddress(exchange) {
		return nil, fmt.Errorf("crypto/signer: invalid exchange address %q", exchange)
	}

	chain := uint256(big.NewInt(int64(chainID)))
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		authSep: ethcrypto.Keccak256(
			authDomainTypeHash,
			ethcrypto.Keccak256([]byte(authDomainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			chain,
		),
		exchangeSep: ethcrypto.Keccak256(
			exchangeDomainTypeHash,
			ethcrypto.Keccak256([]byte(exchangeDomainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			chain,
			addressWord(common.HexToAddress(exchange)),
		),
	}, nil
}

// Address returns the EOA derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuth signs the ClobAuth message used for L1 (key derivation) requests.
func (s *Signer) SignAuth(timestamp string, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		addressWord(s.address),
		ethcrypto.Keccak256([]byte(timestamp)),
		uint256(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(ClobAuthMessage)),
	)
	return s.signDigest(typedDataHash(s.authSep, structHash))
}

// SignOrder signs a CTF exchange order and returns the 0x-prefixed signature.
func (s *Signer) SignOrder(o domain.SignedOrder) (string, error) {
	for name, v := range map[string]*big.Int{
		"salt": o.Salt, "tokenId": o.TokenID, "makerAmount": o.MakerAmount,
		"takerAmount": o.TakerAmount, "expiration": o.Expiration, "nonce": o.Nonce,
		"feeRateBps": o.FeeRateBps,
	} {
		if v == nil || v.Sign() < 0 {
			return "", fmt.Errorf("crypto/signer: %w: %s missing or negative", domain.ErrInvalidOrder, name)
		}
	}

	structHash := ethcrypto.Keccak256(
		orderTypeHash,
		uint256(o.Salt),
		addressWord(common.HexToAddress(o.Maker)),
		addressWord(common.HexToAddress(o.Signer)),
		addressWord(common.HexToAddress(o.Taker)),
		uint256(o.TokenID),
		uint256(o.MakerAmount),
		uint256(o.TakerAmount),
		uint256(o.Expiration),
		uint256(o.Nonce),
		uint256(o.FeeRateBps),
		uint256(big.NewInt(int64(o.Side))),
		uint256(big.NewInt(int64(o.SignatureType))),
	)
	return s.signDigest(typedDataHash(s.exchangeSep, structHash))
}

// typedDataHash is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func uint256(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
