// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package fixedpoint implements decimal fixed-point arithmetic on arbitrary
// precision integers. Every operation truncates toward zero and never rounds
// a value up.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// WadDecimals is the scale of leverage, exchange rates and token amounts.
	WadDecimals = 18
	// BaseAssetDecimals is the scale of the base asset (USDC).
	BaseAssetDecimals = 6
	// NotionalDecimals is the combined scale of base amount times leverage.
	NotionalDecimals = BaseAssetDecimals + WadDecimals
)

var (
	// Wad is 10^18.
	Wad = Pow10(WadDecimals)

	pow10Mu    sync.RWMutex
	pow10Cache = map[int]*big.Int{}
)

var intPool = sync.Pool{
	New: func() interface{} { return new(big.Int) },
}

func getInt() *big.Int { return intPool.Get().(*big.Int) }

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// Pow10 returns 10^n. The returned value must not be mutated.
func Pow10(n int) *big.Int {
	if n < 0 {
		panic(fmt.Sprintf("fixedpoint: negative exponent %d", n))
	}
	pow10Mu.RLock()
	v, ok := pow10Cache[n]
	pow10Mu.RUnlock()
	if ok {
		return v
	}
	v = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	pow10Mu.Lock()
	pow10Cache[n] = v
	pow10Mu.Unlock()
	return v
}

// Mul multiplies two 18-decimal values and scales the product back to 18
// decimals, truncating toward zero.
func Mul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad)
}

// MulDiv returns a*b/d truncated toward zero. d must be non-zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	tmp := getInt()
	defer putInt(tmp)
	tmp.Mul(orZero(a), orZero(b))
	return new(big.Int).Quo(tmp, d)
}

// Div returns a*10^18/b truncated toward zero. b must be non-zero.
func Div(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b)
}

// ConvertDecimals rescales value from one decimal scale to another,
// truncating when narrowing.
func ConvertDecimals(value *big.Int, from, to int) *big.Int {
	v := orZero(value)
	switch {
	case from == to:
		return new(big.Int).Set(v)
	case to > from:
		return new(big.Int).Mul(v, Pow10(to-from))
	default:
		return new(big.Int).Quo(v, Pow10(from-to))
	}
}

// ToFloat converts a scaled integer into a float for display. The
// conversion is lossy.
func ToFloat(value *big.Int, decimals int) float64 {
	if value == nil {
		return 0
	}
	return decimal.NewFromBigInt(value, int32(-decimals)).InexactFloat64()
}

// Parse reads a decimal string such as "12.5" into an integer scaled by
// 10^decimals. Digits beyond the scale are truncated.
func Parse(s string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FromFloat scales a float into an integer with the given decimals,
// truncating excess precision.
func FromFloat(f float64, decimals int) *big.Int {
	return decimal.NewFromFloat(f).Shift(int32(decimals)).Truncate(0).BigInt()
}

// Round rounds a display value to the given number of decimal places,
// half away from zero.
func Round(f float64, places int) float64 {
	return decimal.NewFromFloat(f).Round(int32(places)).InexactFloat64()
}

// ParseInt reads a base-10 integer string. Empty input yields zero.
func ParseInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// Sum adds values, treating nil as zero.
func Sum(values ...*big.Int) *big.Int {
	out := new(big.Int)
	for _, v := range values {
		if v != nil {
			out.Add(out, v)
		}
	}
	return out
}

// Clone copies v, returning zero for nil.
func Clone(v *big.Int) *big.Int {
	return new(big.Int).Set(orZero(v))
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

var zero = new(big.Int)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}
