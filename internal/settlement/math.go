package settlement

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PartialAmountFloor returns floor(numerator * target / denominator) using
// 256-bit arithmetic. It fails when the product overflows 256 bits or the
// denominator is zero.
func PartialAmountFloor(numerator, denominator, target *big.Int) (*big.Int, error) {
	n, d, t, err := partialOperands(numerator, denominator, target)
	if err != nil {
		return nil, err
	}
	prod, overflow := new(uint256.Int).MulOverflow(n, t)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", domain.ErrArithmeticOverflow, numerator, target)
	}
	return prod.Div(prod, d).ToBig(), nil
}

// PartialAmountCeil returns ceil(numerator * target / denominator) using
// 256-bit arithmetic.
func PartialAmountCeil(numerator, denominator, target *big.Int) (*big.Int, error) {
	n, d, t, err := partialOperands(numerator, denominator, target)
	if err != nil {
		return nil, err
	}
	prod, overflow := new(uint256.Int).MulOverflow(n, t)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", domain.ErrArithmeticOverflow, numerator, target)
	}
	// (n*t + d - 1) / d
	dm1 := new(uint256.Int).SubUint64(d, 1)
	sum, overflow := new(uint256.Int).AddOverflow(prod, dm1)
	if overflow {
		return nil, fmt.Errorf("%w: ceil rounding of %s * %s", domain.ErrArithmeticOverflow, numerator, target)
	}
	return sum.Div(sum, d).ToBig(), nil
}

func partialOperands(numerator, denominator, target *big.Int) (n, d, t *uint256.Int, err error) {
	if n, err = toUint256("numerator", numerator); err != nil {
		return
	}
	if d, err = toUint256("denominator", denominator); err != nil {
		return
	}
	if t, err = toUint256("target", target); err != nil {
		return
	}
	if d.IsZero() {
		err = fmt.Errorf("%w: division by zero", domain.ErrArithmeticOverflow)
	}
	return
}

func toUint256(name string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", domain.ErrArithmeticOverflow, name)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", domain.ErrArithmeticOverflow, name)
	}
	return u, nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
