package engine

// verify.go — order verification / retry controller.
//
// The venue offers no transactional guarantees: orders partially fill,
// silently cancel on suspension, or vanish from the current-orders view
// while still clearing into settlement history. Nothing here trusts a
// cached status field; every conclusion comes from a fresh venue read, and
// "not found" is never shortcut to "no exposure" without checking the
// cleared-orders view.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oddsflow/hedger/internal/domain"
	"github.com/oddsflow/hedger/internal/ports"
)

// ErrRejected reports that the venue refused a placement instruction.
var ErrRejected = errors.New("order rejected by venue")

// VerifyOutcome classifies the end state of a placement verification.
type VerifyOutcome string

const (
	VerifyFilled  VerifyOutcome = "FILLED"
	VerifyPartial VerifyOutcome = "PARTIAL"
	VerifyNone    VerifyOutcome = "NONE"
	// VerifyUnknown means the order vanished and the cleared-orders view
	// could not account for it. Callers must treat this as open exposure.
	VerifyUnknown VerifyOutcome = "UNKNOWN"
)

// VerifyResult is the confirmed truth about a placement after verification.
type VerifyResult struct {
	BetID        string
	MatchedSize  float64
	MatchedPrice float64 // size-weighted average across all partial fills
	Remaining    float64
	Outcome      VerifyOutcome
}

const maxReplacements = 2

// OrderController places orders and refuses to let the caller proceed until
// the true matched/remaining size is confirmed.
type OrderController struct {
	venue ports.MarketVenue
}

// NewOrderController wraps a venue.
func NewOrderController(venue ports.MarketVenue) *OrderController {
	return &OrderController{venue: venue}
}

// PlaceAndVerify places req once and polls until the order fully matches or
// maxWait elapses. On timeout with a nonzero remainder it cancels the
// remainder (confirmed, not assumed) and, if the venue price has moved,
// re-places only the unmatched amount at the new price, bounded to
// maxReplacements. The reported price is the weighted average of all fills.
func (c *OrderController) PlaceAndVerify(ctx context.Context, req domain.PlaceOrderRequest, maxWait, poll time.Duration) (VerifyResult, error) {
	var fills []domain.HedgeFill
	remaining := req.Size
	lastBetID := ""

	for attempt := 0; ; attempt++ {
		if req.CustomerRef == "" {
			req.CustomerRef = uuid.New().String()
		}

		placed, err := c.venue.PlaceOrder(ctx, req)
		if err != nil {
			return c.result(lastBetID, fills, remaining), fmt.Errorf("engine.PlaceAndVerify: place: %w", err)
		}
		if !placed.Placed() {
			if attempt == 0 {
				return VerifyResult{Outcome: VerifyNone, Remaining: remaining},
					fmt.Errorf("engine.PlaceAndVerify: %w: %s", ErrRejected, placed.ErrorCode)
			}
			// A rejected re-placement keeps whatever already matched.
			return c.result(lastBetID, fills, remaining), nil
		}
		lastBetID = placed.BetID

		view, err := c.watchOrder(ctx, req.MarketID, placed.BetID, maxWait, poll)
		if err != nil {
			return c.result(lastBetID, fills, remaining), err
		}

		if view.Status == domain.OrderNotFound {
			// Vanished and unaccounted for: report what we know and flag it.
			res := c.result(lastBetID, fills, remaining)
			res.Outcome = VerifyUnknown
			return res, nil
		}

		if view.SizeMatched > 0 {
			fills = append(fills, domain.HedgeFill{Size: view.SizeMatched, Price: matchedPrice(view, req.Price)})
			remaining -= view.SizeMatched
		}
		if remaining < 0 {
			remaining = 0
		}

		if view.SizeRemaining <= 0 || remaining <= 0.01 {
			// Final state at the venue (matched, lapsed or cancelled): report
			// the real remainder so a lapsed partial surfaces as PARTIAL.
			return c.result(lastBetID, fills, remaining), nil
		}

		// Timed out with a live remainder: cancel it before deciding more.
		cancelled, err := c.CancelAndConfirm(ctx, req.MarketID, placed.BetID, maxWait, poll)
		if err != nil {
			return c.result(lastBetID, fills, remaining), fmt.Errorf("engine.PlaceAndVerify: %w", err)
		}
		if cancelled.SizeMatched > view.SizeMatched {
			// More matched while the cancel was in flight.
			extra := cancelled.SizeMatched - view.SizeMatched
			fills = append(fills, domain.HedgeFill{Size: extra, Price: matchedPrice(cancelled, req.Price)})
			remaining -= extra
		}
		if remaining < 0 {
			remaining = 0
		}
		if remaining <= 0.01 {
			return c.result(lastBetID, fills, remaining), nil
		}

		if attempt >= maxReplacements {
			return c.result(lastBetID, fills, remaining), nil
		}

		newPrice, ok := c.freshPrice(ctx, req)
		if !ok || newPrice == req.Price {
			return c.result(lastBetID, fills, remaining), nil
		}

		slog.Info("engine: re-placing unmatched remainder at moved price",
			"market", req.MarketID, "side", req.Side,
			"old_price", req.Price, "new_price", newPrice,
			"remaining", fmt.Sprintf("%.2f", remaining))

		req.Price = newPrice
		req.Size = remaining
		req.CustomerRef = uuid.New().String()
	}
}

// CancelAndConfirm repeatedly issues cancellation and re-polls until the
// order shows zero remaining size or a non-open status, or the deadline
// expires. A single cancel call is never assumed effective: suspensions make
// cancellation itself fail transiently.
//
// An order absent from the current-orders view is resolved through the
// cleared-orders view; a cleared settled size means it fully matched, not
// that it was cancelled. With no cleared record either, the returned view
// keeps status NOT_FOUND and the caller must treat exposure as unknown.
func (c *OrderController) CancelAndConfirm(ctx context.Context, marketID, betID string, deadline, poll time.Duration) (domain.OrderView, error) {
	deadlineAt := time.Now().Add(deadline)

	for {
		if _, err := c.venue.CancelOrder(ctx, marketID, betID); err != nil {
			slog.Warn("engine: cancel attempt failed, will re-poll", "bet_id", betID, "err", err)
		}

		view, err := c.lookupOrder(ctx, betID)
		if err != nil {
			return domain.OrderView{}, fmt.Errorf("engine.CancelAndConfirm %s: %w", betID, err)
		}

		if view.Status == domain.OrderNotFound {
			if cleared := c.lookupCleared(ctx, betID); cleared != nil {
				return domain.OrderView{
					BetID:           betID,
					Status:          domain.OrderComplete,
					SizeMatched:     cleared.SizeSettled,
					SizeRemaining:   0,
					AvgPriceMatched: cleared.PriceMatched,
				}, nil
			}
			return view, nil
		}

		if view.Status != domain.OrderOpen || view.SizeRemaining <= 0 {
			return view, nil
		}

		if time.Now().After(deadlineAt) {
			return view, fmt.Errorf("engine.CancelAndConfirm %s: deadline expired with %.2f still open", betID, view.SizeRemaining)
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return view, err
		}
	}
}

// VerifyOrder is one fresh read of an order's true state, with the
// cleared-orders disambiguation applied.
func (c *OrderController) VerifyOrder(ctx context.Context, betID string) (domain.OrderView, error) {
	view, err := c.lookupOrder(ctx, betID)
	if err != nil {
		return domain.OrderView{}, err
	}
	if view.Status != domain.OrderNotFound {
		return view, nil
	}
	if cleared := c.lookupCleared(ctx, betID); cleared != nil {
		return domain.OrderView{
			BetID:           betID,
			Status:          domain.OrderComplete,
			SizeMatched:     cleared.SizeSettled,
			SizeRemaining:   0,
			AvgPriceMatched: cleared.PriceMatched,
		}, nil
	}
	return view, nil
}

// ResumeVerify re-attaches to an order placed on a previous attempt and
// drives it to a confirmed outcome without placing anything new. Used after
// a tick failed between placement and verification: the order may be open,
// filled, lapsed, or gone entirely.
func (c *OrderController) ResumeVerify(ctx context.Context, marketID, betID string, maxWait, poll time.Duration) (VerifyResult, error) {
	view, err := c.watchOrder(ctx, marketID, betID, maxWait, poll)
	if err != nil {
		return VerifyResult{BetID: betID, Outcome: VerifyUnknown}, err
	}
	if view.Status == domain.OrderNotFound {
		return VerifyResult{BetID: betID, Outcome: VerifyUnknown}, nil
	}

	var fills []domain.HedgeFill
	matched := view.SizeMatched
	if matched > 0 {
		fills = append(fills, domain.HedgeFill{Size: matched, Price: matchedPrice(view, view.Price)})
	}

	if view.Status == domain.OrderOpen && view.SizeRemaining > 0 {
		cancelled, cerr := c.CancelAndConfirm(ctx, marketID, betID, maxWait, poll)
		if cerr != nil {
			return c.result(betID, fills, view.SizeRemaining), fmt.Errorf("engine.ResumeVerify: %w", cerr)
		}
		if cancelled.SizeMatched > matched {
			fills = append(fills, domain.HedgeFill{Size: cancelled.SizeMatched - matched, Price: matchedPrice(cancelled, view.Price)})
			matched = cancelled.SizeMatched
		}
	}

	remaining := view.Size - matched
	if remaining < 0 {
		remaining = 0
	}
	return c.result(betID, fills, remaining), nil
}

// watchOrder polls the current-orders view until full match, a non-open
// status, or the deadline.
func (c *OrderController) watchOrder(ctx context.Context, marketID, betID string, maxWait, poll time.Duration) (domain.OrderView, error) {
	deadlineAt := time.Now().Add(maxWait)

	for {
		view, err := c.VerifyOrder(ctx, betID)
		if err != nil {
			return domain.OrderView{}, fmt.Errorf("engine.watchOrder %s: %w", betID, err)
		}

		if view.Status != domain.OrderOpen {
			return view, nil
		}
		if view.SizeRemaining <= 0 {
			return view, nil
		}
		if time.Now().After(deadlineAt) {
			return view, nil
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return view, err
		}
	}
}

func (c *OrderController) lookupOrder(ctx context.Context, betID string) (domain.OrderView, error) {
	views, err := c.venue.ListOrders(ctx, []string{betID})
	if err != nil {
		return domain.OrderView{}, err
	}
	for _, v := range views {
		if v.BetID == betID {
			return v, nil
		}
	}
	return domain.OrderView{BetID: betID, Status: domain.OrderNotFound}, nil
}

func (c *OrderController) lookupCleared(ctx context.Context, betID string) *domain.ClearedOrder {
	cleared, err := c.venue.ListClearedOrders(ctx, []string{betID})
	if err != nil {
		slog.Warn("engine: cleared-orders lookup failed", "bet_id", betID, "err", err)
		return nil
	}
	for _, co := range cleared {
		if co.BetID == betID && co.SizeSettled > 0 {
			return &co
		}
	}
	return nil
}

// freshPrice returns the current executable price for the request's side.
func (c *OrderController) freshPrice(ctx context.Context, req domain.PlaceOrderRequest) (float64, bool) {
	book, err := c.venue.ListMarketBook(ctx, req.MarketID)
	if err != nil {
		return 0, false
	}
	var price float64
	if req.Side == domain.SideBack {
		price = book.BestBack(req.SelectionID)
	} else {
		price = book.BestLay(req.SelectionID)
	}
	if price <= 0 {
		return 0, false
	}
	return domain.Snap(price), true
}

func (c *OrderController) result(betID string, fills []domain.HedgeFill, remaining float64) VerifyResult {
	combined := domain.WeightedPrice(fills)
	outcome := VerifyNone
	switch {
	case combined.Size > 0 && remaining <= 0.01:
		outcome = VerifyFilled
	case combined.Size > 0:
		outcome = VerifyPartial
	}
	return VerifyResult{
		BetID:        betID,
		MatchedSize:  combined.Size,
		MatchedPrice: combined.Price,
		Remaining:    remaining,
		Outcome:      outcome,
	}
}

func matchedPrice(v domain.OrderView, fallback float64) float64 {
	if v.AvgPriceMatched > 0 {
		return v.AvgPriceMatched
	}
	return fallback
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
