package ports

import (
	"context"

	"github.com/oddsflow/hedger/internal/domain"
)

// MarketVenue places, cancels, and inspects real orders on the exchange.
// Session authentication and renewal live behind this interface; callers
// only see "call may fail and be retried once".
type MarketVenue interface {
	// ListMarketBook returns a fresh snapshot of one market.
	ListMarketBook(ctx context.Context, marketID string) (domain.MarketBook, error)

	// PlaceOrder submits one limit order instruction.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// CancelOrder cancels the unmatched remainder of an order.
	CancelOrder(ctx context.Context, marketID, betID string) (domain.CancelResult, error)

	// ListOrders returns the current-orders view for the given bet ids.
	// Orders missing from the result have cleared or never existed — the
	// caller must disambiguate via ListClearedOrders.
	ListOrders(ctx context.Context, betIDs []string) ([]domain.OrderView, error)

	// ListClearedOrders returns settled orders for the given bet ids.
	ListClearedOrders(ctx context.Context, betIDs []string) ([]domain.ClearedOrder, error)
}
