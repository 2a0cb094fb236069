package mesh

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	token := MintToken("s3cret", now)

	if err := VerifyToken("s3cret", token, now); err != nil {
		t.Errorf("VerifyToken(fresh) = %v, want nil", err)
	}
	if err := VerifyToken("s3cret", token, now.Add(59*time.Second)); err != nil {
		t.Errorf("VerifyToken(within skew) = %v, want nil", err)
	}
	if err := VerifyToken("s3cret", token, now.Add(-59*time.Second)); err != nil {
		t.Errorf("VerifyToken(future within skew) = %v, want nil", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	token := MintToken("s3cret", now)

	if err := VerifyToken("s3cret", token, now.Add(61*time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("VerifyToken(stale) = %v, want ErrTokenExpired", err)
	}
	if err := VerifyToken("s3cret", token, now.Add(-61*time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("VerifyToken(too far future) = %v, want ErrTokenExpired", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	now := time.Now()
	token := MintToken("right", now)
	if err := VerifyToken("wrong", token, now); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("VerifyToken(wrong secret) = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenMalformed(t *testing.T) {
	now := time.Now()
	for _, token := range []string{"", "no-dot", ".", "abc.", ".def", "notanumber.deadbeef"} {
		if err := VerifyToken("s3cret", token, now); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("VerifyToken(%q) = %v, want ErrTokenMalformed", token, err)
		}
	}
}

func TestTokenTampered(t *testing.T) {
	now := time.Now()
	token := MintToken("s3cret", now)
	ts, sig, _ := strings.Cut(token, ".")

	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	if err := VerifyToken("s3cret", ts+"."+string(flipped), now); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("VerifyToken(tampered sig) = %v, want ErrTokenInvalid", err)
	}

	// Re-stamping the timestamp invalidates the signature too.
	newer := time.UnixMilli(now.UnixMilli() + 1)
	newTS := MintToken("s3cret", newer)
	newTSOnly, _, _ := strings.Cut(newTS, ".")
	if newTSOnly != ts {
		if err := VerifyToken("s3cret", newTSOnly+"."+sig, now); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("VerifyToken(re-stamped) = %v, want ErrTokenInvalid", err)
		}
	}
}
