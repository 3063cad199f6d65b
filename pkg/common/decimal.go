package common

import (
	"strconv"

	"github.com/cockroachdb/errors"
	dec "github.com/govalues/decimal"
)

// Decimal values are carried as unscaled int64 with the scale taken from
// the column type. These helpers cross into govalues/decimal for text
// conversion and checked arithmetic.

var ErrDecimalOverflow = errors.New("decimal overflow")

func DecimalToString(unscaled int64, scale int) string {
	d, err := dec.New(unscaled, scale)
	if err != nil {
		return "NaN"
	}
	return d.String()
}

// ParseDecimal parses s and rounds it to scale digits after the point.
func ParseDecimal(s string, width, scale int) (int64, error) {
	d, err := dec.Parse(s)
	if err != nil {
		return 0, err
	}
	d = d.Round(scale).Pad(scale)
	if d.Scale() != scale || d.Prec() > width {
		return 0, errors.Wrapf(ErrDecimalOverflow, "%s does not fit decimal(%d,%d)", s, width, scale)
	}
	return unscaledOf(d)
}

// AddDecimal returns lhs+rhs at scale. The result must fit in width
// digits.
func AddDecimal(lhs, rhs int64, width, scale int) (int64, error) {
	a, err := dec.New(lhs, scale)
	if err != nil {
		return 0, err
	}
	b, err := dec.New(rhs, scale)
	if err != nil {
		return 0, err
	}
	sum, err := a.Add(b)
	if err != nil {
		return 0, errors.Mark(err, ErrDecimalOverflow)
	}
	sum = sum.Pad(scale)
	if sum.Scale() != scale || sum.Prec() > width {
		return 0, errors.Wrapf(ErrDecimalOverflow, "%s + %s exceeds decimal(%d,%d)", a, b, width, scale)
	}
	return unscaledOf(sum)
}

func DecimalToFloat(unscaled int64, scale int) float64 {
	d, err := dec.New(unscaled, scale)
	if err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

func unscaledOf(d dec.Decimal) (int64, error) {
	coef := d.Coef()
	if coef > uint64(1<<63-1) {
		return 0, errors.Wrapf(ErrDecimalOverflow, "%s", d)
	}
	if d.Sign() < 0 {
		return -int64(coef), nil
	}
	return int64(coef), nil
}
