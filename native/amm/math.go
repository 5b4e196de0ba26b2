package amm

import (
	"math/big"

	"github.com/holiman/uint256"

	nativecommon "defiapps/native/common"
)

// BasisPoints is the fee denominator.
const BasisPoints = 10_000

// DefaultFeeBps is the 0.3% swap fee charged on the input amount.
const DefaultFeeBps = 30

var bpsDenominator = uint256.NewInt(BasisPoints)

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, nativecommon.ErrOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, nativecommon.ErrOverflow
	}
	return z, nil
}

// GetAmountOut returns the maximum output for amountIn against the given
// reserves after charging feeBps on the input.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, nativecommon.ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	inWithFee, err := mul(amountIn, uint256.NewInt(BasisPoints-feeBps))
	if err != nil {
		return nil, err
	}
	numerator, err := mul(inWithFee, reserveOut)
	if err != nil {
		return nil, err
	}
	scaledReserve, err := mul(reserveIn, bpsDenominator)
	if err != nil {
		return nil, err
	}
	denominator, err := add(scaledReserve, inWithFee)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(numerator, denominator), nil
}

// GetAmountIn returns the minimum input required to receive amountOut. The
// result is rounded up so the pool never loses value.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, nativecommon.ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	numerator, err := mul(reserveIn, amountOut)
	if err != nil {
		return nil, err
	}
	if numerator, err = mul(numerator, bpsDenominator); err != nil {
		return nil, err
	}
	remaining := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator, err := mul(remaining, uint256.NewInt(BasisPoints-feeBps))
	if err != nil {
		return nil, err
	}
	amountIn := new(uint256.Int).Div(numerator, denominator)
	return amountIn.AddUint64(amountIn, 1), nil
}

// Quote returns the amount of the other asset equivalent to amountA at the
// current reserve ratio, without fees.
func Quote(amountA, reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	if amountA == nil || amountA.IsZero() {
		return nil, nativecommon.ErrInvalidAmount
	}
	if reserveA == nil || reserveB == nil || reserveA.IsZero() || reserveB.IsZero() {
		return nil, nativecommon.ErrInsufficientLiquidity
	}
	product, err := mul(amountA, reserveB)
	if err != nil {
		return nil, err
	}
	return product.Div(product, reserveA), nil
}

// ToUint256 converts a non-negative big integer, rejecting values that do not
// fit in 256 bits.
func ToUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, nativecommon.ErrOverflow
	}
	return out, nil
}

func minUint(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
