package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// BasisPointsScale is the basis-point value of 1.0x.
	BasisPointsScale = 10_000

	usdDecimals = 6
)

var bpsScale = decimal.NewFromInt(BasisPointsScale)

// MicroUSD renders a 6-decimal fixed-point USD amount as a decimal.
func MicroUSD(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -usdDecimals)
}

// HealthRatio renders a basis-point health factor as a ratio (15000 -> 1.5).
func HealthRatio(bps uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bps), 0).Div(bpsScale)
}

// FeeQuote returns floor(amount * feeBps / 10000). It is informational;
// nothing in the ledger charges it.
func FeeQuote(amount uint64, feeBps uint16) uint64 {
	fee := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.NewFromInt(int64(feeBps))).
		Div(bpsScale).
		Floor()
	return fee.BigInt().Uint64()
}
