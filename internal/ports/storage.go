package ports

import (
	"context"
	"time"

	"github.com/oddsflow/hedger/internal/domain"
)

// TradeStore persiste el estado de los trades y su event log.
// Es el único recurso mutable compartido: todas las mutaciones pasan por
// read-modify-write de una sola fila (los trades son agregados independientes).
type TradeStore interface {
	ApplySchema(ctx context.Context) error

	// Fixtures y settings: el motor solo los lee.
	UpsertFixture(ctx context.Context, f domain.Fixture) error
	ListFixtures(ctx context.Context) ([]domain.Fixture, error)
	LoadSettings(ctx context.Context, strategy string) (map[string]string, error)

	// Trades
	CreateTrade(ctx context.Context, t *domain.Trade) error
	GetTrade(ctx context.Context, id int64) (*domain.Trade, error)
	UpdateTrade(ctx context.Context, t *domain.Trade) error
	ListTrades(ctx context.Context, strategy string) ([]*domain.Trade, error)
	ListTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error)

	// Event log append-only: nunca se muta ni se borra.
	AppendEvent(ctx context.Context, e domain.TradeEvent) error
	ListEvents(ctx context.Context, tradeID int64) ([]domain.TradeEvent, error)

	// Agregados read-only para dashboard y reporting.
	GetStats(ctx context.Context, strategy string) (domain.Stats, error)
	PnLByCompetition(ctx context.Context, strategy string) ([]domain.CompetitionPnL, error)
	ExposureBuckets(ctx context.Context, strategy string, bucket time.Duration) ([]domain.ExposureBucket, error)

	Close() error
}
