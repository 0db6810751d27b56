// Package lightning builds the daemon commands lnlab runs inside bitcoind and
// lnd containers and decodes their output. It performs no I/O.
package lightning

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/artpar/lnlab/internal/core/domain"
)

// =============================================================================
// Amounts
// =============================================================================

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// Sats is an amount in satoshis.
//
// It decodes from a JSON number or a quoted decimal string, since lncli
// prints 64-bit integers quoted.
type Sats int64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sats) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return fmt.Errorf("amount %s is not a whole number of satoshis", b)
	}
	*s = Sats(d.IntPart())
	return nil
}

// BTC formats the amount in bitcoin with eight decimal places.
//
// Example:
//
//	Sats(150_000_000).BTC() // returns "1.50000000"
func (s Sats) BTC() string {
	return decimal.New(int64(s), -8).StringFixed(8)
}

// ParseBTC parses a bitcoin amount such as bitcoin-cli's getbalance output.
// Precision beyond one satoshi is rejected.
func ParseBTC(raw string) (Sats, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: bitcoin amount %q", domain.ErrNodeCommandFailed, raw)
	}
	sats := d.Shift(8)
	if !sats.IsInteger() {
		return 0, fmt.Errorf("%w: bitcoin amount %q has sub-satoshi precision", domain.ErrNodeCommandFailed, raw)
	}
	return Sats(sats.IntPart()), nil
}

// ValidateAmount rejects amounts that are zero or negative.
func ValidateAmount(name string, s Sats) error {
	if s <= 0 {
		return fmt.Errorf("%w: %s must be a positive number of satoshis, got %d", domain.ErrInvalidArgument, name, s)
	}
	return nil
}
