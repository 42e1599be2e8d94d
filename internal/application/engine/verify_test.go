package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsflow/hedger/internal/domain"
)

func backRequest(price, size float64) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		MarketID:    testMarketID,
		SelectionID: testSelectionID,
		Side:        domain.SideBack,
		Price:       price,
		Size:        size,
		Persistence: domain.PersistLapse,
	}
}

func TestPlaceAndVerify_ImmediateFill(t *testing.T) {
	fv := newFakeVenue()
	fv.setBook(makeBook(domain.MarketOpen, 2.70, 2.70, 2.72))
	c := NewOrderController(fv)

	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyFilled, res.Outcome)
	assert.InDelta(t, 50.0, res.MatchedSize, 0.0001)
	assert.InDelta(t, 2.70, res.MatchedPrice, 0.0001)
	assert.Equal(t, 0.0, res.Remaining)
	assert.NotEmpty(t, res.BetID)
}

func TestPlaceAndVerify_Rejected(t *testing.T) {
	fv := newFakeVenue()
	fv.reject = true
	c := NewOrderController(fv)

	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 50*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, VerifyNone, res.Outcome)
	assert.Equal(t, 50.0, res.Remaining)
}

func TestPlaceAndVerify_FillsAfterPolling(t *testing.T) {
	fv := newFakeVenue()
	fv.mode = fillRest
	fv.completeAfterPolls = 3 // descansa dos polls y luego matchea entera
	fv.setBook(makeBook(domain.MarketOpen, 2.70, 2.70, 2.72))
	c := NewOrderController(fv)

	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 200*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyFilled, res.Outcome)
	assert.InDelta(t, 50.0, res.MatchedSize, 0.0001)
}

func TestPlaceAndVerify_TimeoutCancelsRemainder(t *testing.T) {
	fv := newFakeVenue()
	fv.mode = fillRest
	fv.partialMatch = 20 // 20 de 50 matchean, el resto descansa
	fv.setBook(makeBook(domain.MarketOpen, 2.70, 2.70, 2.72))
	c := NewOrderController(fv)

	// El precio no se ha movido, así que no hay re-colocación: queda PARTIAL.
	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyPartial, res.Outcome)
	assert.InDelta(t, 20.0, res.MatchedSize, 0.0001)
	assert.InDelta(t, 30.0, res.Remaining, 0.0001)

	// El remanente quedó cancelado de verdad en el venue.
	views, _ := fv.ListOrders(context.Background(), []string{res.BetID})
	assert.Equal(t, domain.OrderExpired, views[0].Status)
}

func TestPlaceAndVerify_ReplacesRemainderWhenPriceMoved(t *testing.T) {
	fv := newFakeVenue()
	fv.mode = fillRest
	fv.partialMatch = 20
	// El mejor back se movió respecto al precio pedido.
	fv.setBook(makeBook(domain.MarketOpen, 2.80, 2.80, 2.84))
	c := NewOrderController(fv)

	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)

	// Hubo al menos una re-colocación solo por el remanente, a precio nuevo.
	fv.mu.Lock()
	placed := append([]domain.PlaceOrderRequest(nil), fv.placed...)
	fv.mu.Unlock()
	require.GreaterOrEqual(t, len(placed), 2)
	assert.InDelta(t, 2.70, placed[0].Price, 0.0001)
	assert.InDelta(t, 2.80, placed[1].Price, 0.0001)
	assert.InDelta(t, 30.0, placed[1].Size, 0.0001)
	// Cada colocación lleva su propia referencia idempotente.
	assert.NotEqual(t, placed[0].CustomerRef, placed[1].CustomerRef)

	// El precio reportado es la media ponderada de todos los fills parciales.
	assert.Equal(t, VerifyPartial, res.Outcome)
	assert.InDelta(t, 40.0, res.MatchedSize, 0.0001)
	wantPrice := (20*2.70 + 20*2.80) / 40
	assert.InDelta(t, wantPrice, res.MatchedPrice, 0.001)
}

// Un lapse del venue con fill parcial se reporta como PARTIAL con el
// remanente real, nunca como FILLED.
func TestPlaceAndVerify_LapsedPartialKeepsRealRemaining(t *testing.T) {
	fv := newFakeVenue()
	fv.mode = fillRest
	fv.partialMatch = 20
	fv.expireAfterPolls = 2 // la orden lapsa con 20 de 50 matcheados
	fv.setBook(makeBook(domain.MarketOpen, 2.70, 2.70, 2.72))
	c := NewOrderController(fv)

	res, err := c.PlaceAndVerify(context.Background(), backRequest(2.70, 50), 200*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyPartial, res.Outcome)
	assert.InDelta(t, 20.0, res.MatchedSize, 0.0001)
	assert.InDelta(t, 30.0, res.Remaining, 0.0001)
}

func TestResumeVerify_AttachesToExistingOrder(t *testing.T) {
	fv := newFakeVenue()
	fv.setOrder(domain.OrderView{
		BetID: "BET-E", Status: domain.OrderComplete, Side: domain.SideBack,
		Price: 2.70, Size: 50, SizeMatched: 50, SizeRemaining: 0, AvgPriceMatched: 2.70,
	})
	c := NewOrderController(fv)

	res, err := c.ResumeVerify(context.Background(), testMarketID, "BET-E", 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyFilled, res.Outcome)
	assert.InDelta(t, 50.0, res.MatchedSize, 0.0001)
	assert.InDelta(t, 2.70, res.MatchedPrice, 0.0001)
	assert.Equal(t, 0.0, res.Remaining)
	// Retomar nunca coloca nada nuevo.
	assert.Empty(t, fv.placed)
}

func TestResumeVerify_OpenOrderCancelledToPartial(t *testing.T) {
	fv := newFakeVenue()
	fv.setOrder(domain.OrderView{
		BetID: "BET-E", Status: domain.OrderOpen, Side: domain.SideBack,
		Price: 2.70, Size: 50, SizeMatched: 20, SizeRemaining: 30, AvgPriceMatched: 2.70,
	})
	c := NewOrderController(fv)

	res, err := c.ResumeVerify(context.Background(), testMarketID, "BET-E", 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerifyPartial, res.Outcome)
	assert.InDelta(t, 20.0, res.MatchedSize, 0.0001)
	assert.InDelta(t, 30.0, res.Remaining, 0.0001)

	// El remanente quedó cancelado de verdad en el venue.
	views, _ := fv.ListOrders(context.Background(), []string{"BET-E"})
	assert.Equal(t, domain.OrderExpired, views[0].Status)
}

func TestCancelAndConfirm_ConfirmsAgainstVenue(t *testing.T) {
	fv := newFakeVenue()
	fv.setOrder(domain.OrderView{
		BetID: "BET-X", Status: domain.OrderOpen, Side: domain.SideLay,
		Price: 2.46, Size: 54.88, SizeMatched: 10, SizeRemaining: 44.88,
	})
	c := NewOrderController(fv)

	view, err := c.CancelAndConfirm(context.Background(), testMarketID, "BET-X", 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderExpired, view.Status)
	assert.InDelta(t, 10.0, view.SizeMatched, 0.0001)
}

func TestCancelAndConfirm_ClearedMeansFullyMatched(t *testing.T) {
	fv := newFakeVenue()
	// Ausente de current orders pero con settled size en cleared: matcheó,
	// no fue cancelada.
	fv.cleared["BET-X"] = domain.ClearedOrder{BetID: "BET-X", SizeSettled: 54.88, PriceMatched: 2.46}
	c := NewOrderController(fv)

	view, err := c.CancelAndConfirm(context.Background(), testMarketID, "BET-X", 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderComplete, view.Status)
	assert.InDelta(t, 54.88, view.SizeMatched, 0.0001)
	assert.InDelta(t, 2.46, view.AvgPriceMatched, 0.0001)
}

func TestVerifyOrder_NotFoundWithoutClearedStaysUnknown(t *testing.T) {
	fv := newFakeVenue()
	c := NewOrderController(fv)

	view, err := c.VerifyOrder(context.Background(), "BET-GONE")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderNotFound, view.Status)
	assert.Equal(t, 0.0, view.SizeMatched)
}
