package value

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MoneyScale is the fixed scale of MONEY and SMALLMONEY.
const MoneyScale = 4

// ErrPrecisionLoss is returned when rescaling would drop non-zero digits.
var ErrPrecisionLoss = errors.New("rescale would lose precision")

var bigTen = big.NewInt(10)

// Decimal is an exact fixed-point number: Unscaled * 10^-Scale.
// The zero value is 0 with scale 0.
type Decimal struct {
	unscaled big.Int
	scale    int32
}

// ParseDecimal parses a plain decimal literal such as "-12.340".
// The scale is the number of digits after the point, trailing zeros included.
func ParseDecimal(s string) (Decimal, error) {
	var d Decimal
	text := strings.TrimSpace(s)
	if text == "" {
		return d, fmt.Errorf("invalid decimal %q", s)
	}

	neg := false
	switch text[0] {
	case '-':
		neg = true
		text = text[1:]
	case '+':
		text = text[1:]
	}

	intPart, fracPart, hasPoint := strings.Cut(text, ".")
	if intPart == "" && fracPart == "" {
		return d, fmt.Errorf("invalid decimal %q", s)
	}
	if hasPoint && strings.ContainsRune(fracPart, '.') {
		return d, fmt.Errorf("invalid decimal %q", s)
	}
	digits := intPart + fracPart
	for _, r := range digits {
		if r < '0' || r > '9' {
			return d, fmt.Errorf("invalid decimal %q", s)
		}
	}

	if _, ok := d.unscaled.SetString(digits, 10); !ok {
		return d, fmt.Errorf("invalid decimal %q", s)
	}
	if neg {
		d.unscaled.Neg(&d.unscaled)
	}
	d.scale = int32(len(fracPart))
	return d, nil
}

// NewDecimal returns unscaled * 10^-scale.
func NewDecimal(unscaled int64, scale int32) Decimal {
	var d Decimal
	d.unscaled.SetInt64(unscaled)
	d.scale = scale
	return d
}

// Scale returns the number of fractional digits.
func (d Decimal) Scale() int32 { return d.scale }

// Unscaled returns a copy of the unscaled integer.
func (d Decimal) Unscaled() *big.Int { return new(big.Int).Set(&d.unscaled) }

// Sign returns -1, 0 or +1.
func (d Decimal) Sign() int { return d.unscaled.Sign() }

// Rescale returns d with the given scale. Widening always succeeds;
// narrowing fails with ErrPrecisionLoss unless the dropped digits are zero.
func (d Decimal) Rescale(scale int32) (Decimal, error) {
	var out Decimal
	out.scale = scale

	switch {
	case scale == d.scale:
		out.unscaled.Set(&d.unscaled)
	case scale > d.scale:
		f := new(big.Int).Exp(bigTen, big.NewInt(int64(scale-d.scale)), nil)
		out.unscaled.Mul(&d.unscaled, f)
	default:
		f := new(big.Int).Exp(bigTen, big.NewInt(int64(d.scale-scale)), nil)
		q, r := new(big.Int).QuoRem(&d.unscaled, f, new(big.Int))
		if r.Sign() != 0 {
			return Decimal{}, fmt.Errorf("%s to scale %d: %w", d, scale, ErrPrecisionLoss)
		}
		out.unscaled.Set(q)
	}
	return out, nil
}

// Cmp compares numeric values regardless of scale.
func (d Decimal) Cmp(o Decimal) int {
	a, b := d, o
	if a.scale < b.scale {
		a, _ = a.Rescale(b.scale)
	} else if b.scale < a.scale {
		b, _ = b.Rescale(a.scale)
	}
	return a.unscaled.Cmp(&b.unscaled)
}

// Float64 returns the nearest float64. It is for display only.
func (d Decimal) Float64() float64 {
	f, _ := new(big.Float).SetPrec(64).Quo(
		new(big.Float).SetInt(&d.unscaled),
		new(big.Float).SetInt(new(big.Int).Exp(bigTen, big.NewInt(int64(d.scale)), nil)),
	).Float64()
	return f
}

// String formats d with exactly Scale fractional digits.
func (d Decimal) String() string {
	digits := new(big.Int).Abs(&d.unscaled).String()
	sign := ""
	if d.unscaled.Sign() < 0 {
		sign = "-"
	}
	if d.scale <= 0 {
		if d.scale < 0 && d.unscaled.Sign() != 0 {
			digits += strings.Repeat("0", int(-d.scale))
		}
		return sign + digits
	}

	scale := int(d.scale)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
