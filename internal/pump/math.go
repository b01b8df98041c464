package pump

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

const (
	// Token mints on both venues use 6 decimals; the quote side is SOL with 9.
	TokenUnit = uint64(1_000_000)

	BpsDenom = uint64(10_000)
)

var (
	ErrInvalidReserves = errors.New("invalid reserves")
	ErrInvalidSlippage = errors.New("slippage out of range")
)

// CurvePrice is the spot price in SOL per whole token implied by the curve's
// virtual reserves. Display and threshold use only; trade amounts always go
// through the constant-product functions below.
func CurvePrice(state *BondingCurveState) (float64, error) {
	return spotPrice(state.VirtualTokenReserves, state.VirtualSolReserves)
}

// PoolPrice is the spot price implied by the pool token account balances.
func PoolPrice(baseReserves, quoteReserves uint64) (float64, error) {
	return spotPrice(baseReserves, quoteReserves)
}

func spotPrice(baseReserves, quoteReserves uint64) (float64, error) {
	if baseReserves == 0 || quoteReserves == 0 {
		return 0, fmt.Errorf("%w: base=%d quote=%d", ErrInvalidReserves, baseReserves, quoteReserves)
	}
	quote := float64(quoteReserves) / float64(solana.LAMPORTS_PER_SOL)
	base := float64(baseReserves) / float64(TokenUnit)
	return quote / base, nil
}

// BuyAmountOut is the constant-product output for spending quoteIn lamports
// against the given reserves: floor(base * quoteIn / (quote + quoteIn)).
// The curve venue feeds virtual reserves, the pool venue feeds live token
// account balances; the formula is shared.
func BuyAmountOut(baseReserves, quoteReserves, quoteIn uint64) (uint64, error) {
	return swapAmountOut(baseReserves, quoteReserves, quoteIn)
}

// SellAmountOut is the mirror: quote lamports received for selling baseIn
// raw token units.
func SellAmountOut(baseReserves, quoteReserves, baseIn uint64) (uint64, error) {
	return swapAmountOut(quoteReserves, baseReserves, baseIn)
}

func swapAmountOut(outReserves, inReserves, amountIn uint64) (uint64, error) {
	if outReserves == 0 || inReserves == 0 {
		return 0, fmt.Errorf("%w: out=%d in=%d", ErrInvalidReserves, outReserves, inReserves)
	}
	if amountIn == 0 {
		return 0, nil
	}
	numerator := new(big.Int).Mul(new(big.Int).SetUint64(outReserves), new(big.Int).SetUint64(amountIn))
	denominator := new(big.Int).Add(new(big.Int).SetUint64(inReserves), new(big.Int).SetUint64(amountIn))
	out := numerator.Div(numerator, denominator)
	if !out.IsUint64() {
		return 0, fmt.Errorf("%w: swap output overflow", ErrInvalidReserves)
	}
	return out.Uint64(), nil
}

// MaxQuoteIn widens a buy's quote spend by the slippage tolerance, rounding
// against the caller: ceil(quoteIn * (10000 + bps) / 10000). The result is
// what gets encoded as the instruction's spend bound.
func MaxQuoteIn(quoteIn, slippageBps uint64) (uint64, error) {
	return mulDivCeil(quoteIn, BpsDenom+slippageBps, BpsDenom)
}

// MinQuoteOut tightens a sell's expected proceeds by the slippage tolerance,
// rounding against the caller: floor(expected * (10000 - bps) / 10000).
func MinQuoteOut(expectedOut, slippageBps uint64) (uint64, error) {
	if slippageBps > BpsDenom {
		return 0, fmt.Errorf("%w: %d bps", ErrInvalidSlippage, slippageBps)
	}
	return mulDivFloor(expectedOut, BpsDenom-slippageBps, BpsDenom)
}

func mulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if !left.IsUint64() {
		return 0, fmt.Errorf("mulDiv overflow")
	}
	return left.Uint64(), nil
}

func mulDivCeil(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Add(left, new(big.Int).SetUint64(denominator-1))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if !left.IsUint64() {
		return 0, fmt.Errorf("mulDiv overflow")
	}
	return left.Uint64(), nil
}
