package domain

// ladder.go — exchange price ladder.
//
// The venue only accepts prices on a discrete ladder whose increment grows
// with the price. Every price we send to the venue goes through Snap first;
// snapping an already-valid price is a no-op (fixed point).

import "math"

// ladderBand is one [Low, High) range of the ladder with a fixed increment.
type ladderBand struct {
	Low, High, Step float64
}

var ladderBands = []ladderBand{
	{1.01, 2.0, 0.01},
	{2.0, 3.0, 0.02},
	{3.0, 4.0, 0.05},
	{4.0, 6.0, 0.10},
	{6.0, 10.0, 0.20},
	{10.0, 20.0, 0.50},
	{20.0, 30.0, 1.0},
	{30.0, 50.0, 2.0},
	{50.0, 100.0, 5.0},
	{100.0, 1000.0, 10.0},
}

const (
	// MinPrice y MaxPrice son los límites duros del ladder del exchange.
	MinPrice = 1.01
	MaxPrice = 1000.0
)

// Snap returns the nearest valid ladder price for p.
// Prices outside [MinPrice, MaxPrice] clamp to the boundary.
func Snap(p float64) float64 {
	if p <= MinPrice {
		return MinPrice
	}
	if p >= MaxPrice {
		return MaxPrice
	}
	band := bandFor(p)
	steps := math.Round((p - band.Low) / band.Step)
	snapped := band.Low + steps*band.Step
	if snapped >= band.High {
		snapped = band.High
	}
	return roundPrice(snapped)
}

// SnapDown returns the nearest valid ladder price at or below p.
func SnapDown(p float64) float64 {
	if p <= MinPrice {
		return MinPrice
	}
	if p >= MaxPrice {
		return MaxPrice
	}
	band := bandFor(p)
	steps := math.Floor((p - band.Low) / band.Step * (1 + 1e-9))
	return roundPrice(band.Low + steps*band.Step)
}

// SnapUp returns the nearest valid ladder price at or above p.
func SnapUp(p float64) float64 {
	down := SnapDown(p)
	if priceEqual(down, p) {
		return down
	}
	return TickShift(down, 1)
}

// TickShift moves a valid ladder price n ticks up (n > 0) or down (n < 0).
func TickShift(p float64, n int) float64 {
	price := Snap(p)
	for ; n > 0; n-- {
		band := bandFor(price)
		price = roundPrice(price + band.Step)
		if price >= MaxPrice {
			return MaxPrice
		}
	}
	for ; n < 0; n++ {
		// At a band boundary the step below belongs to the lower band.
		band := bandFor(price)
		if priceEqual(price, band.Low) && band.Low > MinPrice {
			band = bandFor(price - 1e-6)
		}
		price = roundPrice(price - band.Step)
		if price <= MinPrice {
			return MinPrice
		}
	}
	return price
}

// TicksBetween returns how many ladder ticks separate two valid prices.
// Positive when b > a.
func TicksBetween(a, b float64) int {
	a, b = Snap(a), Snap(b)
	sign := 1
	if b < a {
		a, b = b, a
		sign = -1
	}
	n := 0
	for p := a; p < b && !priceEqual(p, b); p = TickShift(p, 1) {
		n++
		if n > 10000 {
			break
		}
	}
	return sign * n
}

func bandFor(p float64) ladderBand {
	for _, b := range ladderBands {
		if p < b.High {
			return b
		}
	}
	return ladderBands[len(ladderBands)-1]
}

// roundPrice kills float drift so that snapped prices compare cleanly.
func roundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}

func priceEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}
