package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 units of the quote asset
	RateConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // parts-per-million interest rate
)

// DaysPerYear is the day-count convention for fixed-rate interest accrual.
const DaysPerYear = 365

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundDown:
		// DivMod floors for non-negative operands, nothing to do
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // truncate, payer keeps the dust
	RoundHalfEven
	RoundUp
)

// MulDiv computes a * b / c without intermediate overflow, truncating.
func MulDiv(a, b, c int64) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, c, RoundDown)
	putInt128(num)
	return result
}

// ComputeTotalDebt fixes the total obligation of a loan at funding time:
// principal plus simple interest at ratePPM over termDays.
func ComputeTotalDebt(principal, ratePPM, termDays int64) int64 {
	// interest = principal * ratePPM * termDays / (1e6 * 365), truncated
	interim := MultiplyInt128(principal, ratePPM)
	interim.Mul(interim, big.NewInt(termDays))
	interest := DivideInt128(interim, RateConfig.Scale*DaysPerYear, RoundDown)
	putInt128(interim)
	return principal + interest
}

// ComputeProRata computes holding's share of a total over a token supply,
// truncating. Callers guarantee holding <= supply.
func ComputeProRata(total, holding, supply int64) int64 {
	if supply == 0 {
		return 0
	}
	return MulDiv(total, holding, supply)
}

// ComputeShares converts a deposit amount into pool shares at the current
// share price. The first deposit into an empty pool mints 1:1.
func ComputeShares(amount, totalShares, nav int64) int64 {
	if totalShares == 0 || nav == 0 {
		return amount
	}
	return MulDiv(amount, totalShares, nav)
}

// ComputeRedemption converts pool shares back into the underlying amount at
// the current share price, truncating in the pool's favor.
func ComputeRedemption(shares, totalShares, nav int64) int64 {
	if totalShares == 0 {
		return 0
	}
	return MulDiv(shares, nav, totalShares)
}
