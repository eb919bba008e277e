package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizedAmount keeps a token amount both in base units and in
// human-readable form. Raw is never mutated after construction.
type NormalizedAmount struct {
	Raw        *big.Int        `json:"raw"`
	Normalized decimal.Decimal `json:"normalized"`
}

// ZeroAmount returns a normalized zero
func ZeroAmount() NormalizedAmount {
	return NormalizedAmount{Raw: new(big.Int), Normalized: decimal.Zero}
}

// NewAmount normalizes a raw base-unit amount by the token decimals
func NewAmount(raw *big.Int, decimals uint8) NormalizedAmount {
	if raw == nil {
		return ZeroAmount()
	}
	r := new(big.Int).Set(raw)
	return NormalizedAmount{
		Raw:        r,
		Normalized: decimal.NewFromBigInt(r, -int32(decimals)),
	}
}

// ParseAmount converts a human-readable amount ("1.5") into base units
func ParseAmount(text string, decimals uint8) (NormalizedAmount, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return NormalizedAmount{}, fmt.Errorf("amount cannot be empty")
	}

	if strings.ContainsAny(text, "eE") {
		return NormalizedAmount{}, fmt.Errorf("invalid amount format: %s", text)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return NormalizedAmount{}, fmt.Errorf("invalid amount format: %w", err)
	}
	if d.IsNegative() {
		return NormalizedAmount{}, fmt.Errorf("amount must not be negative")
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return NormalizedAmount{}, fmt.Errorf("amount %s has more than %d decimals", text, decimals)
	}

	return NewAmount(shifted.BigInt(), decimals), nil
}

// IsZero reports whether the amount is zero or unset
func (a NormalizedAmount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// RawOrZero never returns nil
func (a NormalizedAmount) RawOrZero() *big.Int {
	if a.Raw == nil {
		return new(big.Int)
	}
	return a.Raw
}

// String returns the normalized decimal representation
func (a NormalizedAmount) String() string {
	return a.Normalized.String()
}

// Equal compares raw values
func (a NormalizedAmount) Equal(b NormalizedAmount) bool {
	return a.RawOrZero().Cmp(b.RawOrZero()) == 0
}
