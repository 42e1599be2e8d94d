package domain

// settlement.go — commission-adjusted realized P&L.
//
// The load-bearing distinction here: "no hedge ever existed" (verified via
// the cleared-orders view) forces a full loss of the back stake, while
// "hedge data unavailable" yields an explicit unknown. Conflating the two
// silently hides real losses.

import "math"

// HedgeFill is one matched lay fill (or several reduced to one).
type HedgeFill struct {
	Size  float64
	Price float64
}

// WeightedPrice reduces multiple partial fills to a single (size, price)
// pair via stake-weighted price averaging, rounded to 3 decimals.
func WeightedPrice(fills []HedgeFill) HedgeFill {
	var size, weighted float64
	for _, f := range fills {
		if f.Size <= 0 {
			continue
		}
		size += f.Size
		weighted += f.Size * f.Price
	}
	if size == 0 {
		return HedgeFill{}
	}
	return HedgeFill{
		Size:  size,
		Price: math.Round(weighted/size*1000) / 1000,
	}
}

// SettleInput is everything the calculator needs for one trade.
type SettleInput struct {
	BackStake float64
	BackPrice float64

	// Hedge is the reduced matched hedge, or nil when hedge data is
	// genuinely incomplete (missing, not verified-absent).
	Hedge *HedgeFill

	// HedgeVerifiedZero means the cleared-orders view confirmed that no
	// hedge was ever matched. Only this, never a mere absence, justifies
	// concluding zero hedge.
	HedgeVerifiedZero bool

	MarketClosed bool
	Commission   float64
}

// SettleResult carries the realized P&L, or Known=false for an explicit
// unknown (never a default zero substituting for missing data).
type SettleResult struct {
	PnL   float64
	Known bool
}

// Settle computes the commission-adjusted realized profit/loss.
//
// With a matched hedge the two outcome legs are:
//
//	win leg:  backStake*(backPrice-1) - laySize*(layPrice-1)
//	lose leg: laySize - backStake
//
// A full green-up makes both equal; with a partial hedge we record the
// conservative (worse) leg. Commission applies to positive P&L only.
func Settle(in SettleInput) SettleResult {
	if in.Hedge != nil && in.Hedge.Size > 0 {
		winLeg := in.BackStake*(in.BackPrice-1) - in.Hedge.Size*(in.Hedge.Price-1)
		loseLeg := in.Hedge.Size - in.BackStake
		pnl := math.Min(winLeg, loseLeg)
		if pnl > 0 {
			pnl *= 1 - in.Commission
		}
		return SettleResult{PnL: pnl, Known: true}
	}

	if in.HedgeVerifiedZero && in.MarketClosed {
		// Market closed with a verified-absent hedge: the position rode the
		// event unhedged and the back stake is gone.
		return SettleResult{PnL: -in.BackStake, Known: true}
	}

	return SettleResult{Known: false}
}

// HedgeTargetPrice is the ladder-snapped lay price that locks the configured
// profit target against the matched entry VWAP.
func HedgeTargetPrice(entryPrice, profitTargetPct float64) float64 {
	return Snap(entryPrice / (1 + profitTargetPct))
}

// GreenUpSize is the lay stake that equalizes both outcome legs.
func GreenUpSize(backStake, backPrice, layPrice float64) float64 {
	if layPrice <= 0 {
		return 0
	}
	return math.Round(backStake*backPrice/layPrice*100) / 100
}

// RecoveryExitPrice is the drift-based exit: a fixed percentage beyond the
// pre-trigger baseline, ladder-snapped.
func RecoveryExitPrice(baseline, driftPct float64) float64 {
	return Snap(baseline * (1 + driftPct))
}
