package mesh

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenSkew is how far a token timestamp may drift from the verifier's
// clock before it is rejected.
const TokenSkew = 60 * time.Second

var (
	ErrTokenMalformed = errors.New("mesh: malformed token")
	ErrTokenExpired   = errors.New("mesh: token outside freshness window")
	ErrTokenInvalid   = errors.New("mesh: token signature mismatch")
)

// MintToken produces a fresh auth token for inter-node requests:
// "<unix_ms>.<hex hmac-sha256(secret, unix_ms)>". Tokens are stateless
// and single-use in spirit; freshness is enforced by the skew window.
func MintToken(secret string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return ts + "." + signTimestamp(secret, ts)
}

// VerifyToken checks a token against the shared secret and the freshness
// window. Comparison is constant time.
func VerifyToken(secret, token string, now time.Time) error {
	ts, sig, ok := strings.Cut(token, ".")
	if !ok || ts == "" || sig == "" {
		return ErrTokenMalformed
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrTokenMalformed)
	}

	drift := now.Sub(time.UnixMilli(millis))
	if drift > TokenSkew || drift < -TokenSkew {
		return ErrTokenExpired
	}

	expected := signTimestamp(secret, ts)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

func signTimestamp(secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}
