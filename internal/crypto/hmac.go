package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// L2Auth holds the derived API credentials used to sign CLOB requests.
type L2Auth struct {
	Key        string
	Secret     string // url-safe base64
	Passphrase string
}

// Headers returns the POLY_* headers for an L2 request made at unixTS.
// The signature is base64url(HMAC-SHA256(secret, ts+method+path+body)).
func (a L2Auth) Headers(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    a.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": a.Passphrase,
		"POLY_SIGNATURE":  a.sign(ts + method + path + body),
	}
}

func (a L2Auth) sign(message string) string {
	mac := hmac.New(sha256.New, decodeSecret(a.Secret))
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// decodeSecret accepts url-safe or standard base64 and falls back to raw bytes.
func decodeSecret(secret string) []byte {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(secret)
	if b, err := base64.StdEncoding.DecodeString(normalized); err == nil {
		return b
	}
	return []byte(secret)
}

// String returns a redacted representation suitable for logging.
func (a L2Auth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("L2Auth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
