// Package pricing implements the linear bonding curve that prices completed
// work units: price = base + units × slope.
package pricing

import "github.com/maco144/pickle/internal/domain"

const (
	DefaultBasePrice   = 1.20
	DefaultSlope       = 0.00015
	DefaultSampleEvery = 10
)

// Curve is a linear bonding curve with a sparse sample history.
type Curve struct {
	BasePrice   float64
	Slope       float64 // must be >= 0 for the price to be non-decreasing
	SampleEvery uint64  // history milestone spacing in units
}

// DefaultCurve returns the stock curve.
func DefaultCurve() Curve {
	return Curve{
		BasePrice:   DefaultBasePrice,
		Slope:       DefaultSlope,
		SampleEvery: DefaultSampleEvery,
	}
}

// Price returns the unit price after the given number of completed units.
func (c Curve) Price(units uint64) float64 {
	return c.BasePrice + float64(units)*c.Slope
}

// InitialHistory returns the single base sample every history starts from.
func (c Curve) InitialHistory() []domain.PriceSample {
	return []domain.PriceSample{{Units: 0, Price: c.BasePrice}}
}

// RecordIfMilestone appends (units, price) when units lands on a sample
// milestone and returns history unchanged otherwise.
func (c Curve) RecordIfMilestone(units uint64, price float64, history []domain.PriceSample) []domain.PriceSample {
	every := c.SampleEvery
	if every == 0 {
		every = DefaultSampleEvery
	}
	if units == 0 || units%every != 0 {
		return history
	}
	return append(history, domain.PriceSample{Units: units, Price: price})
}
