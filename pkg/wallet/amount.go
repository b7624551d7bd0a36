package wallet

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Minor unit scales per chain family.
const (
	SatoshiPerBTC = 100_000_000
	KoinuPerDOGE  = 100_000_000
	DropsPerXRP   = 1_000_000
)

// CoinToMinor converts a human-readable decimal coin amount ("0.5", "12.3")
// into the chain's minor unit as a big integer. Fails on sub-minor precision
// so money is never silently truncated.
func CoinToMinor(c ChainType, amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	var scale int32
	switch c.Mainnet() {
	case ChainBTC, ChainDOGE:
		scale = 8
	case ChainXRP:
		scale = 6
	default:
		return nil, fmt.Errorf("unknown chain type %q", c)
	}
	minor := d.Shift(scale)
	if !minor.IsInteger() {
		return nil, fmt.Errorf("amount %s has more precision than %s supports", amount, c)
	}
	return minor.BigInt(), nil
}

// CloneBig returns a defensive copy of a possibly-nil big integer
func CloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// MulRatio returns ceil(v * num / den) without leaving integer arithmetic
func MulRatio(v *big.Int, num, den int64) *big.Int {
	r := new(big.Int).Mul(v, big.NewInt(num))
	d := big.NewInt(den)
	q, m := new(big.Int).QuoRem(r, d, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MaxBig returns the larger of two big integers
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// legacyTimestampLength distinguishes date-string encodings from Unix-second
// strings; a Unix timestamp in seconds stays under 12 digits until year 5138.
const legacyTimestampLength = 11

// ParseStoredTimestamp decodes an execute-until timestamp read from the
// store. Older records carry an RFC 3339 date string instead of Unix
// seconds; those are detected by length and converted. New writes always use
// Unix seconds (see FormatStoredTimestamp).
func ParseStoredTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > legacyTimestampLength {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid legacy timestamp %q: %w", s, err)
		}
		return t, nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Unix(secs, 0), nil
}

// FormatStoredTimestamp encodes a timestamp for persistence as Unix seconds
func FormatStoredTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
