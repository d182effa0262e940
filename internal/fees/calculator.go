// Package fees splits a redemption's gross amount into the platform fee and
// the net amount paid out to the organizer.
package fees

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Breakdown is the result of applying the platform rate to a gross amount.
// Gross always equals Fee + Net.
type Breakdown struct {
	GrossCents int64 `json:"grossAmountCents"`
	FeeCents   int64 `json:"platformFeeCents"`
	NetCents   int64 `json:"netAmountCents"`
}

// Calculator applies a fixed percentage fee. It is safe for concurrent use.
type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator validates ratePercent against [0, 100).
func NewCalculator(ratePercent float64) (*Calculator, error) {
	if math.IsNaN(ratePercent) || ratePercent < 0 || ratePercent >= 100 {
		return nil, fmt.Errorf("fee rate %v must be within [0, 100)", ratePercent)
	}
	return &Calculator{rate: decimal.NewFromFloat(ratePercent)}, nil
}

// RatePercent returns the configured rate as a decimal string, e.g. "2.9".
func (c *Calculator) RatePercent() string {
	return c.rate.String()
}

// Compute returns fee = floor(gross * rate / 100) and net = gross - fee.
// Non-positive gross yields a zero breakdown carrying the input.
func (c *Calculator) Compute(grossCents int64) Breakdown {
	if grossCents <= 0 {
		return Breakdown{GrossCents: grossCents}
	}
	fee := decimal.NewFromInt(grossCents).Mul(c.rate).Div(hundred).Floor().IntPart()
	return Breakdown{
		GrossCents: grossCents,
		FeeCents:   fee,
		NetCents:   grossCents - fee,
	}
}
