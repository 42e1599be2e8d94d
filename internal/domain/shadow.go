package domain

import "time"

// ShadowTrack records what a trade that never risked capital (or has already
// settled) would have achieved, for strategy calibration. The tracked
// minimum freezes the moment a real or theoretical trigger occurs, so late
// market drift cannot retroactively inflate the observed opportunity.
type ShadowTrack struct {
	StartedAt  time.Time `json:"started_at"`
	EntryPrice float64   `json:"entry_price"` // theoretical (or actual) entry
	BestPrice  float64   `json:"best_price"`  // lowest price seen = best hedge offered
	LastPrice  float64   `json:"last_price"`
	Frozen     bool      `json:"frozen"`
	Done       bool      `json:"done"`
}

// NewShadowTrack starts observation at the given theoretical entry.
func NewShadowTrack(now time.Time, entryPrice float64) ShadowTrack {
	return ShadowTrack{StartedAt: now, EntryPrice: entryPrice}
}

// Observe feeds one price sample. It returns true exactly once, when the
// track terminates (window elapsed or market closed).
func (t *ShadowTrack) Observe(now time.Time, price float64, window time.Duration, marketClosed bool) (done bool) {
	if t.Done {
		return false
	}
	if marketClosed || now.Sub(t.StartedAt) >= window {
		t.Done = true
		return true
	}
	if price > 0 {
		t.LastPrice = price
		if !t.Frozen && (t.BestPrice == 0 || price < t.BestPrice) {
			t.BestPrice = price
		}
	}
	return false
}

// Freeze stops the minimum from improving; call on any trigger event.
func (t *ShadowTrack) Freeze() {
	t.Frozen = true
}

// TheoreticalEdge is the relative improvement the market offered after the
// theoretical entry (0 when nothing was observed).
func (t *ShadowTrack) TheoreticalEdge() float64 {
	if t.EntryPrice <= 0 || t.BestPrice <= 0 {
		return 0
	}
	return (t.EntryPrice - t.BestPrice) / t.EntryPrice
}
