package domain

// Side of an exchange bet.
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// Persistence is what happens to the unmatched remainder when the market
// turns in-play.
type Persistence string

const (
	PersistLapse Persistence = "LAPSE"
	PersistKeep  Persistence = "PERSIST"
)

// OrderViewStatus is the venue-reported status of a current order.
type OrderViewStatus string

const (
	OrderOpen     OrderViewStatus = "EXECUTABLE"
	OrderComplete OrderViewStatus = "EXECUTION_COMPLETE"
	OrderExpired  OrderViewStatus = "EXPIRED"
	// OrderNotFound means absent from the current-orders view. This does NOT
	// imply cancellation — a fully matched order clears into settlement
	// history; callers must check cleared orders before concluding anything.
	OrderNotFound OrderViewStatus = "NOT_FOUND"
)

// OrderView is an ephemeral snapshot of a venue order. Never cached beyond
// one verification loop: matched size changes between polls.
type OrderView struct {
	BetID             string
	Status            OrderViewStatus
	Side              Side
	Price             float64
	Size              float64
	SizeMatched       float64
	SizeRemaining     float64
	AvgPriceMatched   float64
}

// ClearedOrder is a settled order from the venue's cleared-orders view.
type ClearedOrder struct {
	BetID        string
	SizeSettled  float64
	PriceMatched float64
}

// PlaceOrderRequest is one order instruction for the venue.
// CustomerRef makes retried placements idempotent on the venue side.
type PlaceOrderRequest struct {
	MarketID    string
	SelectionID int64
	Side        Side
	Price       float64
	Size        float64
	Persistence Persistence
	CustomerRef string
}

// PlacedOrder is the venue's response to a placement.
type PlacedOrder struct {
	BetID           string
	Status          string // SUCCESS | FAILURE
	ErrorCode       string
	SizeMatched     float64 // immediately matched portion
	AvgPriceMatched float64
}

// Placed reports whether the venue accepted the instruction.
func (p PlacedOrder) Placed() bool { return p.Status == "SUCCESS" && p.BetID != "" }

// CancelResult is the venue's response to a cancellation.
type CancelResult struct {
	Status        string
	ErrorCode     string
	SizeCancelled float64
}

// MarketStatus of a venue market.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketSuspended MarketStatus = "SUSPENDED"
	MarketClosed    MarketStatus = "CLOSED"
)

// PriceSize is one level of available liquidity.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// RunnerBook is the book for one selection.
type RunnerBook struct {
	SelectionID     int64       `json:"selectionId"`
	LastPriceTraded float64     `json:"lastPriceTraded"`
	TotalMatched    float64     `json:"totalMatched"`
	AvailableToBack []PriceSize `json:"availableToBack"`
	AvailableToLay  []PriceSize `json:"availableToLay"`
}

// MarketBook is a snapshot of one market.
type MarketBook struct {
	MarketID string       `json:"marketId"`
	Status   MarketStatus `json:"status"`
	InPlay   bool         `json:"inplay"`
	Runners  []RunnerBook `json:"runners"`
}

// Runner returns the book for the given selection, if present.
func (b MarketBook) Runner(selectionID int64) (RunnerBook, bool) {
	for _, r := range b.Runners {
		if r.SelectionID == selectionID {
			return r, true
		}
	}
	return RunnerBook{}, false
}

// BestBack returns the best available back price for a selection (0 if none).
func (b MarketBook) BestBack(selectionID int64) float64 {
	r, ok := b.Runner(selectionID)
	if !ok || len(r.AvailableToBack) == 0 {
		return 0
	}
	return r.AvailableToBack[0].Price
}

// BestLay returns the best available lay price for a selection (0 if none).
func (b MarketBook) BestLay(selectionID int64) float64 {
	r, ok := b.Runner(selectionID)
	if !ok || len(r.AvailableToLay) == 0 {
		return 0
	}
	return r.AvailableToLay[0].Price
}

// CurrentPrice is the reference price for trigger detection: last traded if
// the venue reports one, otherwise the best back.
func (b MarketBook) CurrentPrice(selectionID int64) float64 {
	r, ok := b.Runner(selectionID)
	if !ok {
		return 0
	}
	if r.LastPriceTraded > 0 {
		return r.LastPriceTraded
	}
	if len(r.AvailableToBack) > 0 {
		return r.AvailableToBack[0].Price
	}
	return 0
}
