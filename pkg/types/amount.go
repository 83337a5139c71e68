// Package types is the shared, dependency-light domain vocabulary used by
// every internal package: orders, quotes, auctions, solutions and the
// settlement transaction they resolve into. No package in pkg/types
// imports anything under internal/.
package types

import (
	"encoding/json"
	"math/big"

	"github.com/holiman/uint256"
)

// Amount is a 256-bit unsigned token amount. Arithmetic saturates or
// reports overflow explicitly; it never wraps silently.
type Amount struct {
	v uint256.Int
}

// NewAmount builds an Amount from a uint64.
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// AmountFromDecimalString builds an Amount from a base-10 string.
func AmountFromDecimalString(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, err
	}
	return a, nil
}

// AmountFromBigInt builds an Amount from a non-negative big.Int. ok is
// false if n is negative or does not fit in 256 bits.
func AmountFromBigInt(n *big.Int) (result Amount, ok bool) {
	if n.Sign() < 0 || n.BitLen() > 256 {
		return Amount{}, false
	}
	var a Amount
	a.v.SetFromBig(n)
	return a, true
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) String() string { return a.v.Dec() }

// MarshalJSON encodes an Amount as a base-10 string, since JSON numbers
// cannot represent a full 256-bit range without precision loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v.Dec())
}

// UnmarshalJSON decodes an Amount from a base-10 string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return a.v.SetFromDecimal(s)
}

func (a Amount) Uint256() uint256.Int { return a.v }

func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Add returns a+b and false if the addition overflowed 256 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, !overflow
}

// Sub returns a-b and false if b > a (would underflow).
func (a Amount) Sub(b Amount) (Amount, bool) {
	if a.v.Lt(&b.v) {
		return Amount{}, false
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, true
}

// Mul returns a*b and false if the multiplication overflowed 256 bits.
func (a Amount) Mul(b Amount) (Amount, bool) {
	var out Amount
	overflow := out.v.MulOverflow(&a.v, &b.v)
	return out, !overflow
}

// MulDiv computes floor(a*b/c) by widening the a*b product to arbitrary
// precision before dividing, so the intermediate multiplication never
// overflows even when both operands are near the 256-bit ceiling. This is
// the "512-bit" widening the off-market test (§4.5) requires. ok is false
// if c is zero or the quotient does not fit back into 256 bits.
func MulDiv(a, b, c Amount) (result Amount, ok bool) {
	if c.v.IsZero() {
		return Amount{}, false
	}
	prod := new(big.Int).Mul(a.Big(), b.Big())
	q := new(big.Int).Quo(prod, c.Big())
	if q.BitLen() > 256 {
		return Amount{}, false
	}
	var out Amount
	out.v.SetFromBig(q)
	return out, true
}

// WidenedLess reports whether a*b < c*d, computed with arbitrary-precision
// intermediate products so the comparison is exact even when a*b or c*d
// would overflow 256 bits. Used directly by the off-market test.
func WidenedLess(a, b, c, d Amount) bool {
	left := new(big.Int).Mul(a.Big(), b.Big())
	right := new(big.Int).Mul(c.Big(), d.Big())
	return left.Cmp(right) < 0
}
