package currency

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"kelvin-core/pkg/errno"
)

var (
	normalPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.[0-9]*[1-9])?$`)
	basePattern   = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)
)

// Unit converts between normal and base denominations with a fixed scale.
//
// A valid normal amount is positive and canonical: no sign, no leading zeros,
// no trailing fractional zeros and at most Decimals fractional digits. This
// keeps BaseToNormal(NormalToBase(x)) == x.
type Unit struct {
	Decimals int32
}

func (u Unit) IsValidNormal(amount string) bool {
	if !normalPattern.MatchString(amount) || amount == "0" {
		return false
	}
	if i := strings.IndexByte(amount, '.'); i >= 0 && int32(len(amount)-i-1) > u.Decimals {
		return false
	}
	return true
}

func (u Unit) IsValidBase(amount string) bool {
	return basePattern.MatchString(amount)
}

func (u Unit) NormalToBase(amount string) (string, error) {
	b, err := u.ToBase(amount)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (u Unit) BaseToNormal(amount string) (string, error) {
	if !u.IsValidBase(amount) {
		return "", errno.ErrInvalidAmount.New("%q is not a base unit integer", amount)
	}
	b, _ := new(big.Int).SetString(amount, 10)
	return u.FromBase(b), nil
}

// ToBase parses a valid normal amount into base units.
func (u Unit) ToBase(amount string) (*big.Int, error) {
	if !u.IsValidNormal(amount) {
		return nil, errno.ErrInvalidAmount.New("%q is not a valid amount with at most %d decimals", amount, u.Decimals)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errno.ErrInvalidAmount.Wrap(err, "%q", amount)
	}
	return d.Shift(u.Decimals).BigInt(), nil
}

// FromBase renders a base unit integer in normal units.
func (u Unit) FromBase(b *big.Int) string {
	return decimal.NewFromBigInt(b, -u.Decimals).String()
}
