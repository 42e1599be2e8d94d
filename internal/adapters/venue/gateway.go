package venue

import (
	"context"
	"fmt"

	"github.com/oddsflow/hedger/internal/domain"
)

// Gateway implements ports.MarketVenue on top of the exchange API client.
type Gateway struct {
	client *Client
}

// NewGateway wraps an authenticated client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// ListMarketBook returns a fresh snapshot of one market with best offers.
func (g *Gateway) ListMarketBook(ctx context.Context, marketID string) (domain.MarketBook, error) {
	req := listMarketBookRequest{MarketIDs: []string{marketID}}
	req.PriceProjection.PriceData = []string{"EX_BEST_OFFERS"}

	var books []marketBook
	if err := g.client.post(ctx, g.client.dataLimiter, "listMarketBook", req, &books); err != nil {
		return domain.MarketBook{}, fmt.Errorf("venue.ListMarketBook %s: %w", marketID, err)
	}
	if len(books) == 0 {
		return domain.MarketBook{}, fmt.Errorf("venue.ListMarketBook %s: market not returned", marketID)
	}
	return mapMarketBook(books[0]), nil
}

// PlaceOrder submits one limit order instruction. The customer reference
// makes a retried placement idempotent on the venue side.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	wire := placeOrdersRequest{
		MarketID:    req.MarketID,
		CustomerRef: req.CustomerRef,
		Instructions: []placeInstruction{{
			OrderType:   "LIMIT",
			SelectionID: req.SelectionID,
			Side:        string(req.Side),
			LimitOrder: limitOrder{
				Size:            req.Size,
				Price:           req.Price,
				PersistenceType: string(req.Persistence),
			},
		}},
	}

	var resp placeOrdersResponse
	if err := g.client.post(ctx, g.client.txLimiter, "placeOrders", wire, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("venue.PlaceOrder %s: %w", req.MarketID, err)
	}
	if len(resp.InstructionReports) == 0 {
		return domain.PlacedOrder{Status: resp.Status, ErrorCode: resp.ErrorCode}, nil
	}

	rep := resp.InstructionReports[0]
	return domain.PlacedOrder{
		BetID:           rep.BetID,
		Status:          rep.Status,
		ErrorCode:       firstNonEmpty(rep.ErrorCode, resp.ErrorCode),
		SizeMatched:     rep.SizeMatched,
		AvgPriceMatched: rep.AveragePriceMatched,
	}, nil
}

// CancelOrder cancels the unmatched remainder of one order. A single call is
// not assumed effective — callers confirm via ListOrders.
func (g *Gateway) CancelOrder(ctx context.Context, marketID, betID string) (domain.CancelResult, error) {
	wire := cancelOrdersRequest{
		MarketID:     marketID,
		Instructions: []cancelInstruction{{BetID: betID}},
	}

	var resp cancelOrdersResponse
	if err := g.client.post(ctx, g.client.txLimiter, "cancelOrders", wire, &resp); err != nil {
		return domain.CancelResult{}, fmt.Errorf("venue.CancelOrder %s: %w", betID, err)
	}
	if len(resp.InstructionReports) == 0 {
		return domain.CancelResult{Status: resp.Status, ErrorCode: resp.ErrorCode}, nil
	}

	rep := resp.InstructionReports[0]
	return domain.CancelResult{
		Status:        rep.Status,
		ErrorCode:     firstNonEmpty(rep.ErrorCode, resp.ErrorCode),
		SizeCancelled: rep.SizeCancelled,
	}, nil
}

// ListOrders returns the current-orders view for the given bet ids. Bets
// absent from the response are reported with status NOT_FOUND.
func (g *Gateway) ListOrders(ctx context.Context, betIDs []string) ([]domain.OrderView, error) {
	var resp listCurrentOrdersResponse
	if err := g.client.post(ctx, g.client.dataLimiter, "listCurrentOrders", listCurrentOrdersRequest{BetIDs: betIDs}, &resp); err != nil {
		return nil, fmt.Errorf("venue.ListOrders: %w", err)
	}

	byID := make(map[string]currentOrder, len(resp.CurrentOrders))
	for _, co := range resp.CurrentOrders {
		byID[co.BetID] = co
	}

	views := make([]domain.OrderView, 0, len(betIDs))
	for _, id := range betIDs {
		co, ok := byID[id]
		if !ok {
			views = append(views, domain.OrderView{BetID: id, Status: domain.OrderNotFound})
			continue
		}
		views = append(views, domain.OrderView{
			BetID:           co.BetID,
			Status:          domain.OrderViewStatus(co.Status),
			Side:            domain.Side(co.Side),
			Price:           co.PriceSize.Price,
			Size:            co.PriceSize.Size,
			SizeMatched:     co.SizeMatched,
			SizeRemaining:   co.SizeRemaining,
			AvgPriceMatched: co.AveragePriceMatched,
		})
	}
	return views, nil
}

// ListClearedOrders returns settled orders for the given bet ids.
func (g *Gateway) ListClearedOrders(ctx context.Context, betIDs []string) ([]domain.ClearedOrder, error) {
	var resp listClearedOrdersResponse
	if err := g.client.post(ctx, g.client.dataLimiter, "listClearedOrders", listClearedOrdersRequest{BetIDs: betIDs}, &resp); err != nil {
		return nil, fmt.Errorf("venue.ListClearedOrders: %w", err)
	}

	cleared := make([]domain.ClearedOrder, 0, len(resp.ClearedOrders))
	for _, co := range resp.ClearedOrders {
		cleared = append(cleared, domain.ClearedOrder{
			BetID:        co.BetID,
			SizeSettled:  co.SizeSettled,
			PriceMatched: co.PriceMatched,
		})
	}
	return cleared, nil
}

func mapMarketBook(mb marketBook) domain.MarketBook {
	out := domain.MarketBook{
		MarketID: mb.MarketID,
		Status:   domain.MarketStatus(mb.Status),
		InPlay:   mb.InPlay,
		Runners:  make([]domain.RunnerBook, 0, len(mb.Runners)),
	}
	for _, r := range mb.Runners {
		out.Runners = append(out.Runners, domain.RunnerBook{
			SelectionID:     r.SelectionID,
			LastPriceTraded: r.LastPriceTraded,
			TotalMatched:    r.TotalMatched,
			AvailableToBack: mapPriceSizes(r.Ex.AvailableToBack),
			AvailableToLay:  mapPriceSizes(r.Ex.AvailableToLay),
		})
	}
	return out
}

func mapPriceSizes(in []priceSize) []domain.PriceSize {
	out := make([]domain.PriceSize, 0, len(in))
	for _, ps := range in {
		out = append(out, domain.PriceSize{Price: ps.Price, Size: ps.Size})
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
