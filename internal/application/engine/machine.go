package engine

// machine.go — per-phase tick handlers.
//
// Each handler receives the trade, its decoded phase variant, and a fresh
// market snapshot. Handlers mutate the trade and return; the caller persists
// once per tick. A transient venue failure surfaces as an error with the
// state untouched, so the next poll retries from exactly the same point.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/oddsflow/hedger/internal/domain"
)

// sizeEpsilon absorbs venue rounding on matched sizes.
const sizeEpsilon = 0.01

func (e *Engine) tickWatching(ctx context.Context, t *domain.Trade, st *domain.Watching, book domain.MarketBook, now time.Time) error {
	if book.Status == domain.MarketClosed {
		t.Status = domain.StatusCancelled
		e.transition(ctx, t, &domain.Completed{}, "market closed before any trigger", 0)
		return nil
	}

	price := book.CurrentPrice(t.SelectionID)
	if price <= 0 {
		return nil
	}

	if st.Baseline == 0 {
		st.Baseline = price
		st.Readings = []domain.PriceReading{{Price: price, At: now}}
		slog.Info("engine: baseline established", "trade", t.ID, "baseline", price)
		return nil
	}

	move := (price - st.Baseline) / st.Baseline
	if move >= e.params.TriggerMovePct {
		minute := t.MinuteOfMatch(now)
		if minute > e.params.CutoffMinute {
			sh := domain.NewShadowTrack(now, price)
			e.transition(ctx, t, &domain.Skipped{
				Reason: fmt.Sprintf("trigger at minute %d is past cutoff minute %d", minute, e.params.CutoffMinute),
				Shadow: &sh,
			}, "trigger past cutoff", price)
			return nil
		}
		e.transition(ctx, t, &domain.TriggerWait{
			Baseline:     st.Baseline,
			TriggerPrice: price,
			TriggeredAt:  now,
		}, fmt.Sprintf("price moved %.1f%% off baseline %.2f", move*100, st.Baseline), price)
		return nil
	}

	// Sub-trigger drift: the baseline only follows once a full window of
	// readings agrees, so a slow ramp toward the trigger can't hide itself.
	st.Readings = append(st.Readings, domain.PriceReading{Price: price, At: now})
	if len(st.Readings) > e.params.BaselineWindow {
		st.Readings = st.Readings[len(st.Readings)-e.params.BaselineWindow:]
	}
	if len(st.Readings) == e.params.BaselineWindow && readingsStable(st.Readings, e.params.BaselineTolerancePct) {
		st.Baseline = meanPrice(st.Readings)
	}
	return nil
}

func (e *Engine) tickTriggerWait(ctx context.Context, t *domain.Trade, st *domain.TriggerWait, book domain.MarketBook, now time.Time) error {
	if book.Status == domain.MarketClosed {
		t.Status = domain.StatusCancelled
		e.transition(ctx, t, &domain.Completed{}, "market closed during trigger settle", 0)
		return nil
	}

	price := book.CurrentPrice(t.SelectionID)

	if now.Before(st.TriggeredAt.Add(e.params.TriggerSettle)) {
		// Half the trigger threshold is the false-alarm line: a quote blip
		// collapses back fast, a real event does not.
		if price > 0 && price < st.Baseline*(1+e.params.TriggerMovePct/2) {
			e.transition(ctx, t, &domain.Watching{Baseline: price}, "trigger reverted during settle window", price)
		}
		return nil
	}

	// An entry placed on a previous attempt is reconciled before anything
	// else: that order is already at risk whatever the book looks like now.
	if st.EntryBetID != "" {
		res, err := e.orders.ResumeVerify(ctx, t.MarketID, st.EntryBetID, e.cfg.VerifyWindow, e.cfg.PollInterval)
		if err != nil {
			t.LastError = err.Error()
			return err
		}
		if res.Outcome == VerifyUnknown {
			t.LastError = "entry order vanished; exposure unknown"
			e.event(ctx, domain.NewEvent(t.ID, domain.EventError, domain.OrderPayload{BetID: st.EntryBetID, ErrorCode: "ORDER_VANISHED"}))
			return nil
		}
		return e.enterPosition(ctx, t, st, res, now)
	}

	bestBack := book.BestBack(t.SelectionID)
	bestLay := book.BestLay(t.SelectionID)
	if bestBack <= 0 || bestLay <= 0 {
		sh := domain.NewShadowTrack(now, st.TriggerPrice)
		e.transition(ctx, t, &domain.Skipped{Reason: "no executable liquidity after settle window", Shadow: &sh},
			"illiquid at entry", price)
		return nil
	}

	entry := entryPrice(bestBack, bestLay)
	if entry < e.params.EntryBandMin || entry > e.params.EntryBandMax {
		sh := domain.NewShadowTrack(now, entry)
		e.transition(ctx, t, &domain.Skipped{
			Reason: fmt.Sprintf("entry price %.2f outside band [%.2f, %.2f]", entry, e.params.EntryBandMin, e.params.EntryBandMax),
			Shadow: &sh,
		}, "entry out of band", entry)
		return nil
	}

	if st.EntryRef == "" {
		st.EntryRef = uuid.New().String()
		// Persisted before the placement, so a retry reuses the same
		// reference and the venue dedupes the instruction.
		if err := e.persist(ctx, t, now); err != nil {
			return err
		}
	}

	req := domain.PlaceOrderRequest{
		MarketID:    t.MarketID,
		SelectionID: t.SelectionID,
		Side:        domain.SideBack,
		Price:       entry,
		Size:        e.params.BackStake,
		Persistence: domain.PersistLapse,
		CustomerRef: st.EntryRef,
	}
	e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderPlaced, domain.OrderPayload{
		CustomerRef: req.CustomerRef, Side: req.Side, Price: req.Price, Size: req.Size,
	}))

	res, err := e.orders.PlaceAndVerify(ctx, req, e.cfg.VerifyWindow, e.cfg.PollInterval)
	if res.BetID != "" {
		st.EntryBetID = res.BetID
	}
	if err != nil {
		if errors.Is(err, ErrRejected) {
			t.LastError = err.Error()
			e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderRejected, domain.OrderPayload{
				Side: req.Side, Price: req.Price, Size: req.Size, ErrorCode: err.Error(),
			}))
			// Rejection is not transient: the window has likely moved on.
			sh := domain.NewShadowTrack(now, entry)
			e.transition(ctx, t, &domain.Skipped{Reason: "entry rejected by venue", Shadow: &sh}, "entry rejected", entry)
			return nil
		}
		t.LastError = err.Error()
		return err
	}
	return e.enterPosition(ctx, t, st, res, now)
}

// enterPosition records a verified entry fill and raises the protective lay.
func (e *Engine) enterPosition(ctx context.Context, t *domain.Trade, st *domain.TriggerWait, res VerifyResult, now time.Time) error {
	if res.MatchedSize < sizeEpsilon {
		sh := domain.NewShadowTrack(now, st.TriggerPrice)
		e.transition(ctx, t, &domain.Skipped{Reason: "entry unmatched within verification window", Shadow: &sh},
			"entry unmatched", st.TriggerPrice)
		return nil
	}

	if err := t.RecordBackMatched(res.MatchedSize); err != nil {
		return err
	}
	t.BackPrice = res.MatchedPrice
	t.BackStake = e.params.BackStake
	e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderMatched, domain.OrderPayload{
		BetID: res.BetID, Side: domain.SideBack, Price: res.MatchedPrice, Matched: res.MatchedSize, Remaining: res.Remaining,
	}))

	target := domain.HedgeTargetPrice(res.MatchedPrice, e.params.ProfitTargetPct)
	size := domain.GreenUpSize(res.MatchedSize, res.MatchedPrice, target)
	t.TargetStake = size

	live := &domain.Live{
		Baseline:    st.Baseline,
		EntryPrice:  res.MatchedPrice,
		HedgePrice:  target,
		HedgeSize:   size,
		StablePrice: res.MatchedPrice,
	}
	betID, err := e.placeLay(ctx, t, target, size)
	if err != nil {
		// Entry is matched; go LIVE anyway and let the emergency path place
		// the protection on the next tick.
		t.LastError = fmt.Sprintf("protective order placement failed: %v", err)
		slog.Error("engine: protective order placement failed", "trade", t.ID, "err", err)
	} else {
		live.HedgeBetID = betID
		t.LaySize = size
	}
	e.transition(ctx, t, live, fmt.Sprintf("entry matched %.2f@%.2f", res.MatchedSize, res.MatchedPrice), res.MatchedPrice)
	return nil
}

func (e *Engine) tickLive(ctx context.Context, t *domain.Trade, st *domain.Live, book domain.MarketBook, now time.Time) error {
	if st.HedgeBetID == "" {
		return e.emergencyHedge(ctx, t, st, book, "protective order missing")
	}

	view, err := e.orders.VerifyOrder(ctx, st.HedgeBetID)
	if err != nil {
		t.LastError = err.Error()
		return err
	}

	switch view.Status {
	case domain.OrderComplete:
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.HedgePrice))
		e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
			"protective order fully matched", t.LayPrice)
		return nil

	case domain.OrderNotFound:
		// Absent from both current and cleared views. NOT zero exposure:
		// flag it and keep polling rather than re-hedging blind.
		t.LastError = "protective order vanished; exposure unknown"
		e.event(ctx, domain.NewEvent(t.ID, domain.EventError, domain.OrderPayload{BetID: st.HedgeBetID, ErrorCode: "ORDER_VANISHED"}))
		return nil

	case domain.OrderExpired:
		// Venue cancelled it (suspension lapse). Fold whatever matched and
		// re-place protection for the remainder at the current price.
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.HedgePrice))
		st.HedgeBetID = ""
		return e.emergencyHedge(ctx, t, st, book, "protective order lapsed")
	}

	if book.Status == domain.MarketClosed {
		// Match state at closure is confirmed by the view above.
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.HedgePrice))
		if t.LayMatchedSize > sizeEpsilon {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
				"market closed with partial protection", t.LayPrice)
		} else {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeUnhedged, EntryPrice: st.EntryPrice},
				"market closed with verified zero protection", 0)
		}
		return nil
	}

	price := book.CurrentPrice(t.SelectionID)
	if price <= 0 {
		return nil
	}

	if (price-st.StablePrice)/st.StablePrice >= e.params.TriggerMovePct {
		cancelled, err := e.orders.CancelAndConfirm(ctx, t.MarketID, st.HedgeBetID, e.cfg.VerifyWindow, e.cfg.PollInterval)
		if err != nil {
			t.LastError = err.Error()
			return err
		}
		e.foldLayFill(ctx, t, cancelled.SizeMatched, matchedPrice(cancelled, st.HedgePrice))

		if cancelled.Status == domain.OrderComplete && st.HedgeSize-cancelled.SizeMatched < sizeEpsilon {
			// The hedge filled while the cancel was in flight.
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
				"protective order matched during cancellation", t.LayPrice)
			return nil
		}

		e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderCancelled, domain.OrderPayload{
			BetID: st.HedgeBetID, Matched: cancelled.SizeMatched, Remaining: st.HedgeSize - cancelled.SizeMatched,
		}))
		e.transition(ctx, t, &domain.ConfirmWait{
			Baseline:           st.Baseline,
			EntryPrice:         st.EntryPrice,
			StablePrice:        st.StablePrice,
			SecondTriggerPrice: price,
			SecondTriggerAt:    now,
			HedgePrice:         st.HedgePrice,
			HedgeSize:          roundSize(st.HedgeSize - cancelled.SizeMatched),
		}, fmt.Sprintf("second trigger off stable %.2f", st.StablePrice), price)
		return nil
	}

	// Track the post-entry stable reference the same way the baseline moves.
	st.Readings = append(st.Readings, domain.PriceReading{Price: price, At: now})
	if len(st.Readings) > e.params.BaselineWindow {
		st.Readings = st.Readings[len(st.Readings)-e.params.BaselineWindow:]
	}
	if len(st.Readings) == e.params.BaselineWindow && readingsStable(st.Readings, e.params.BaselineTolerancePct) {
		st.StablePrice = meanPrice(st.Readings)
	}
	return nil
}

func (e *Engine) tickConfirmWait(ctx context.Context, t *domain.Trade, st *domain.ConfirmWait, book domain.MarketBook, now time.Time) error {
	if book.Status == domain.MarketClosed {
		if t.LayMatchedSize > sizeEpsilon {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
				"market closed during confirmation", t.LayPrice)
		} else {
			// The protective order was cancelled with verified zero match.
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeUnhedged, EntryPrice: st.EntryPrice},
				"market closed during confirmation, zero protection", 0)
		}
		return nil
	}

	price := book.CurrentPrice(t.SelectionID)

	if now.Before(st.SecondTriggerAt.Add(e.params.ConfirmWait)) {
		if price > 0 && price < st.StablePrice*(1+e.params.TriggerMovePct/2) {
			// Reversal confirmed the other way: restore the original protection.
			betID, err := e.placeLay(ctx, t, st.HedgePrice, st.HedgeSize)
			if err != nil {
				t.LastError = fmt.Sprintf("re-placing protective order failed: %v", err)
				return nil
			}
			t.LaySize = st.HedgeSize
			e.transition(ctx, t, &domain.Live{
				Baseline:    st.Baseline,
				EntryPrice:  st.EntryPrice,
				HedgeBetID:  betID,
				HedgePrice:  st.HedgePrice,
				HedgeSize:   st.HedgeSize,
				StablePrice: st.StablePrice,
			}, "second trigger reverted, protection restored", price)
		}
		return nil
	}

	// Confirmed adverse move: exit at the drift price off the pre-trigger
	// baseline instead of chasing the profit target.
	recPrice := domain.RecoveryExitPrice(st.Baseline, e.params.RecoveryDriftPct)
	recSize := roundSize(domain.GreenUpSize(t.BackMatchedSize, t.BackPrice, recPrice) - t.LayMatchedSize)
	if recSize < sizeEpsilon {
		e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
			"already fully protected", t.LayPrice)
		return nil
	}

	betID, err := e.placeLay(ctx, t, recPrice, recSize)
	if err != nil {
		t.LastError = fmt.Sprintf("recovery placement failed: %v", err)
		return nil
	}
	t.LaySize = recSize
	e.transition(ctx, t, &domain.RecoveryPending{
		Baseline:      st.Baseline,
		EntryPrice:    st.EntryPrice,
		RecoveryBetID: betID,
		RecoveryPrice: recPrice,
		RecoverySize:  recSize,
		Attempts:      1,
	}, fmt.Sprintf("recovery order %.2f@%.2f", recSize, recPrice), recPrice)
	return nil
}

func (e *Engine) tickRecoveryPending(ctx context.Context, t *domain.Trade, st *domain.RecoveryPending, book domain.MarketBook, now time.Time) error {
	view, err := e.orders.VerifyOrder(ctx, st.RecoveryBetID)
	if err != nil {
		t.LastError = err.Error()
		return err
	}

	switch view.Status {
	case domain.OrderComplete:
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.RecoveryPrice))
		e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeRecovered, EntryPrice: st.EntryPrice},
			"recovery order fully matched", t.LayPrice)
		return nil

	case domain.OrderNotFound:
		t.LastError = "recovery order vanished; exposure unknown"
		e.event(ctx, domain.NewEvent(t.ID, domain.EventError, domain.OrderPayload{BetID: st.RecoveryBetID, ErrorCode: "ORDER_VANISHED"}))
		return nil

	case domain.OrderExpired:
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.RecoveryPrice))
		if st.Attempts >= e.params.MaxRecoveryRetries {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeUnresolved, EntryPrice: st.EntryPrice},
				fmt.Sprintf("recovery retries exhausted after %d attempts", st.Attempts), 0)
			return nil
		}
		lay := book.BestLay(t.SelectionID)
		if lay <= 0 {
			t.LastError = "no lay liquidity for recovery retry"
			return nil
		}
		price := domain.Snap(lay)
		size := roundSize(domain.GreenUpSize(t.BackMatchedSize, t.BackPrice, price) - t.LayMatchedSize)
		if size < sizeEpsilon {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeRecovered, EntryPrice: st.EntryPrice},
				"recovery completed across partial fills", t.LayPrice)
			return nil
		}
		betID, err := e.placeLay(ctx, t, price, size)
		if err != nil {
			t.LastError = fmt.Sprintf("recovery retry failed: %v", err)
			return nil
		}
		st.RecoveryBetID = betID
		st.RecoveryPrice = price
		st.RecoverySize = size
		st.Attempts++
		slog.Warn("engine: recovery order re-placed", "trade", t.ID, "attempt", st.Attempts, "price", price, "size", size)
		return nil
	}

	if book.Status == domain.MarketClosed {
		e.foldLayFill(ctx, t, view.SizeMatched, matchedPrice(view, st.RecoveryPrice))
		if t.LayMatchedSize > sizeEpsilon {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeRecovered, EntryPrice: st.EntryPrice},
				"market closed during recovery", t.LayPrice)
		} else {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeUnhedged, EntryPrice: st.EntryPrice},
				"market closed with verified zero recovery", 0)
		}
	}
	return nil
}

func (e *Engine) tickSettling(ctx context.Context, t *domain.Trade, st *domain.Settling, book domain.MarketBook, now time.Time) error {
	in := domain.SettleInput{
		BackStake:  t.BackMatchedSize,
		BackPrice:  t.BackPrice,
		Commission: e.params.CommissionRate,
	}
	if t.LayMatchedSize > sizeEpsilon {
		in.Hedge = &domain.HedgeFill{Size: t.LayMatchedSize, Price: t.LayPrice}
	} else if st.Outcome == domain.OutcomeUnhedged {
		in.HedgeVerifiedZero = true
		in.MarketClosed = true
	}

	res := domain.Settle(in)
	t.RealisedPnL = math.Round(res.PnL*100) / 100
	t.PnLKnown = res.Known
	settledAt := now
	t.SettledAt = &settledAt
	if !res.Known {
		t.LastError = "realised pnl unknown: hedge state unresolved"
	}

	e.event(ctx, domain.NewEvent(t.ID, domain.EventSettlement, domain.SettlementPayload{
		Outcome: st.Outcome, PnL: t.RealisedPnL, PnLKnown: res.Known,
	}))
	slog.Info("engine: trade settled",
		"trade", t.ID, "outcome", st.Outcome, "pnl", t.RealisedPnL, "pnl_known", res.Known)

	e.transition(ctx, t, &domain.PostTradeMonitor{Shadow: domain.NewShadowTrack(now, st.EntryPrice)},
		"settled, shadow monitor running", 0)
	return nil
}

func (e *Engine) tickPostTrade(ctx context.Context, t *domain.Trade, st *domain.PostTradeMonitor, book domain.MarketBook, now time.Time) error {
	if done := e.observeShadow(ctx, t, &st.Shadow, book, now); done {
		e.transition(ctx, t, &domain.Completed{}, "shadow window closed", 0)
	}
	return nil
}

func (e *Engine) tickSkipped(ctx context.Context, t *domain.Trade, st *domain.Skipped, book domain.MarketBook, now time.Time) error {
	if st.Shadow == nil || st.Shadow.Done {
		return nil
	}
	e.observeShadow(ctx, t, st.Shadow, book, now)
	return nil
}

// observeShadow feeds one sample into a shadow track, freezing the tracked
// minimum on a theoretical second trigger. Returns true when the track closes.
func (e *Engine) observeShadow(ctx context.Context, t *domain.Trade, track *domain.ShadowTrack, book domain.MarketBook, now time.Time) bool {
	price := book.CurrentPrice(t.SelectionID)

	if !track.Frozen && track.EntryPrice > 0 && price > 0 &&
		(price-track.EntryPrice)/track.EntryPrice >= e.params.TriggerMovePct {
		track.Freeze()
		e.event(ctx, domain.NewEvent(t.ID, domain.EventShadowFrozen, domain.TransitionPayload{
			Reason: "theoretical second trigger", Price: price,
		}))
	}

	done := track.Observe(now, price, e.cfg.ShadowWindow, book.Status == domain.MarketClosed)
	if done {
		e.event(ctx, domain.NewEvent(t.ID, domain.EventShadowClosed, map[string]any{
			"entry_price":      track.EntryPrice,
			"best_price":       track.BestPrice,
			"theoretical_edge": track.TheoreticalEdge(),
		}))
	}
	return done
}

// emergencyHedge re-establishes protection at the current executable lay
// price for whatever exposure remains unprotected.
func (e *Engine) emergencyHedge(ctx context.Context, t *domain.Trade, st *domain.Live, book domain.MarketBook, reason string) error {
	if book.Status == domain.MarketClosed {
		if t.LayMatchedSize > sizeEpsilon {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
				"market closed before re-protection", t.LayPrice)
		} else {
			e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeUnhedged, EntryPrice: st.EntryPrice},
				"market closed with verified zero protection", 0)
		}
		return nil
	}

	lay := book.BestLay(t.SelectionID)
	if lay <= 0 {
		t.LastError = "no lay liquidity for emergency protection"
		return nil
	}
	price := domain.Snap(lay)
	size := roundSize(domain.GreenUpSize(t.BackMatchedSize, t.BackPrice, price) - t.LayMatchedSize)
	if size < sizeEpsilon {
		e.transition(ctx, t, &domain.Settling{Outcome: domain.OutcomeHedged, EntryPrice: st.EntryPrice},
			"exposure already covered", t.LayPrice)
		return nil
	}

	betID, err := e.placeLay(ctx, t, price, size)
	if err != nil {
		t.LastError = fmt.Sprintf("emergency protection failed: %v", err)
		return nil
	}
	st.HedgeBetID = betID
	st.HedgePrice = price
	st.HedgeSize = size
	st.EmergencyHedges++
	t.LaySize = size
	t.LastError = ""
	e.event(ctx, domain.NewEvent(t.ID, domain.EventEmergencyHedge, domain.OrderPayload{
		BetID: betID, Side: domain.SideLay, Price: price, Size: size, ErrorCode: reason,
	}))
	slog.Warn("engine: emergency protection placed", "trade", t.ID, "reason", reason, "price", price, "size", size)
	return nil
}

// placeLay submits one protective/recovery lay with PERSIST so a suspension
// does not silently drop it.
func (e *Engine) placeLay(ctx context.Context, t *domain.Trade, price, size float64) (string, error) {
	req := domain.PlaceOrderRequest{
		MarketID:    t.MarketID,
		SelectionID: t.SelectionID,
		Side:        domain.SideLay,
		Price:       price,
		Size:        size,
		Persistence: domain.PersistKeep,
		CustomerRef: uuid.New().String(),
	}
	placed, err := e.venue.PlaceOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("engine.placeLay: %w", err)
	}
	if !placed.Placed() {
		e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderRejected, domain.OrderPayload{
			Side: domain.SideLay, Price: price, Size: size, ErrorCode: placed.ErrorCode,
		}))
		return "", fmt.Errorf("engine.placeLay: %w: %s", ErrRejected, placed.ErrorCode)
	}
	e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderPlaced, domain.OrderPayload{
		BetID: placed.BetID, CustomerRef: req.CustomerRef, Side: domain.SideLay, Price: price, Size: size,
	}))
	return placed.BetID, nil
}

// foldLayFill merges one finalized order's matched size into the trade's
// aggregate lay position via stake-weighted averaging. Fills are folded only
// when their order reaches a final state, so each order is counted once.
func (e *Engine) foldLayFill(ctx context.Context, t *domain.Trade, size, price float64) {
	if size < sizeEpsilon {
		return
	}
	combined := domain.WeightedPrice([]domain.HedgeFill{
		{Size: t.LayMatchedSize, Price: t.LayPrice},
		{Size: size, Price: price},
	})
	t.LayMatchedSize = combined.Size
	t.LayPrice = combined.Price
	e.event(ctx, domain.NewEvent(t.ID, domain.EventOrderMatched, domain.OrderPayload{
		Side: domain.SideLay, Price: price, Matched: size,
	}))
}

// entryPrice picks the executable back price: the best back when the spread
// is tight, otherwise one tick inside the snapped mid so the order doesn't
// rest unmatched across a wide spread.
func entryPrice(bestBack, bestLay float64) float64 {
	if domain.TicksBetween(bestBack, bestLay) <= 3 {
		return domain.Snap(bestBack)
	}
	mid := domain.Snap((bestBack + bestLay) / 2)
	return domain.TickShift(mid, -1)
}

// readingsStable reports whether the window's spread stays within tolerance.
func readingsStable(readings []domain.PriceReading, tolerancePct float64) bool {
	lo, hi := readings[0].Price, readings[0].Price
	for _, r := range readings[1:] {
		if r.Price < lo {
			lo = r.Price
		}
		if r.Price > hi {
			hi = r.Price
		}
	}
	return (hi-lo)/lo <= tolerancePct
}

func meanPrice(readings []domain.PriceReading) float64 {
	var sum float64
	for _, r := range readings {
		sum += r.Price
	}
	return math.Round(sum/float64(len(readings))*100) / 100
}

func roundSize(v float64) float64 {
	return math.Round(v*100) / 100
}
