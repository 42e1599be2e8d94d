package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddsflow/hedger/internal/domain"
	"github.com/oddsflow/hedger/internal/ports"
)

// Config son los parámetros operativos del motor (no de la estrategia).
type Config struct {
	VerifyWindow   time.Duration // máximo de espera verificando una orden
	PollInterval   time.Duration // cadencia de polling dentro de la verificación
	ShadowWindow   time.Duration // ventana del shadow monitor
	KickoffLead    time.Duration // antelación con la que un trade scheduled se activa
	TrailingWindow time.Duration // ventana post-kickoff en la que aún se activa
}

// Engine ejecuta el ciclo de vida de cada trade contra el venue.
// Un trade es un agregado independiente: cada Tick hace read-modify-write
// de una sola fila y nunca toca otros trades.
type Engine struct {
	venue  ports.MarketVenue
	store  ports.TradeStore
	orders *OrderController
	params domain.StrategyParams
	cfg    Config
}

// New construye el motor. params ya viene resuelto (config + settings).
func New(venue ports.MarketVenue, store ports.TradeStore, params domain.StrategyParams, cfg Config) *Engine {
	return &Engine{
		venue:  venue,
		store:  store,
		orders: NewOrderController(venue),
		params: params,
		cfg:    cfg,
	}
}

// Params returns the resolved strategy parameters the engine runs with.
func (e *Engine) Params() domain.StrategyParams { return e.params }

// SeedTrades crea un trade SCHEDULED por cada fixture sin trade previo para
// esta estrategia. Idempotente: la clave (strategy, event_id) es única.
func (e *Engine) SeedTrades(ctx context.Context) (int, error) {
	fixtures, err := e.store.ListFixtures(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine.SeedTrades: %w", err)
	}
	existing, err := e.store.ListTrades(ctx, e.params.Name)
	if err != nil {
		return 0, fmt.Errorf("engine.SeedTrades: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.EventID] = true
	}

	created := 0
	for _, f := range fixtures {
		if seen[f.EventID] {
			continue
		}
		t := &domain.Trade{
			Strategy:    e.params.Name,
			EventID:     f.EventID,
			Competition: f.Competition,
			EventName:   f.Name,
			KickoffAt:   f.KickoffAt,
			MarketID:    f.MarketID,
			SelectionID: f.SelectionID,
			Status:      domain.StatusScheduled,
			Phase:       &domain.Watching{},
			BackStake:   e.params.BackStake,
		}
		if err := e.store.CreateTrade(ctx, t); err != nil {
			return created, fmt.Errorf("engine.SeedTrades: event %s: %w", f.EventID, err)
		}
		created++
		slog.Info("engine: trade scheduled", "trade", t.ID, "event", f.Name, "kickoff", f.KickoffAt)
	}
	return created, nil
}

// Tick avanza un trade exactamente un paso de su máquina de estados y
// persiste el resultado. Un fallo transitorio del venue deja el estado
// intacto; el siguiente poll reintenta desde el mismo punto.
func (e *Engine) Tick(ctx context.Context, tradeID int64) error {
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("engine.Tick %d: %w", tradeID, err)
	}
	now := time.Now().UTC()

	if t.Status == domain.StatusScheduled {
		if now.After(t.KickoffAt.Add(e.cfg.TrailingWindow)) {
			t.Status = domain.StatusCancelled
			t.LastError = "missed activation window"
			e.transition(ctx, t, &domain.Completed{}, "kickoff window missed", 0)
			return e.persist(ctx, t, now)
		}
		if now.Before(t.KickoffAt.Add(-e.cfg.KickoffLead)) {
			return nil
		}
		t.Status = domain.StatusWatching
		slog.Info("engine: trade activated", "trade", t.ID, "event", t.EventName)
	}

	if _, done := t.Phase.(*domain.Completed); done {
		return nil
	}
	if sk, ok := t.Phase.(*domain.Skipped); ok && (sk.Shadow == nil || sk.Shadow.Done) {
		return nil
	}

	book, err := e.venue.ListMarketBook(ctx, t.MarketID)
	if err != nil {
		slog.Warn("engine: market snapshot failed", "trade", t.ID, "err", err)
		return fmt.Errorf("engine.Tick %d: %w", tradeID, err)
	}

	switch st := t.Phase.(type) {
	case *domain.Watching:
		err = e.tickWatching(ctx, t, st, book, now)
	case *domain.TriggerWait:
		err = e.tickTriggerWait(ctx, t, st, book, now)
	case *domain.Live:
		err = e.tickLive(ctx, t, st, book, now)
	case *domain.ConfirmWait:
		err = e.tickConfirmWait(ctx, t, st, book, now)
	case *domain.RecoveryPending:
		err = e.tickRecoveryPending(ctx, t, st, book, now)
	case *domain.Settling:
		err = e.tickSettling(ctx, t, st, book, now)
	case *domain.PostTradeMonitor:
		err = e.tickPostTrade(ctx, t, st, book, now)
	case *domain.Skipped:
		err = e.tickSkipped(ctx, t, st, book, now)
	default:
		return fmt.Errorf("engine.Tick %d: unhandled phase %s", tradeID, t.Phase.Phase())
	}

	if perr := e.persist(ctx, t, now); perr != nil {
		return perr
	}
	return err
}

func (e *Engine) persist(ctx context.Context, t *domain.Trade, now time.Time) error {
	t.UpdatedAt = now
	if err := e.store.UpdateTrade(ctx, t); err != nil {
		return fmt.Errorf("engine.persist trade %d: %w", t.ID, err)
	}
	return nil
}

// transition cambia la fase, deriva el status grueso y registra el evento.
func (e *Engine) transition(ctx context.Context, t *domain.Trade, to domain.PhaseState, reason string, price float64) {
	from := domain.Phase("")
	if t.Phase != nil {
		from = t.Phase.Phase()
	}
	t.Phase = to
	t.Status = statusFor(to, t.Status)

	e.event(ctx, domain.NewEvent(t.ID, domain.EventPhaseTransition, domain.TransitionPayload{
		From: from, To: to.Phase(), Reason: reason, Price: price,
	}))
	slog.Info("engine: phase transition",
		"trade", t.ID, "from", from, "to", to.Phase(), "reason", reason)
}

// event persiste una entrada del event log. Un fallo de escritura se loggea
// pero no interrumpe el tick: el estado del trade manda.
func (e *Engine) event(ctx context.Context, ev domain.TradeEvent) {
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("engine: event append failed", "trade", ev.TradeID, "type", ev.Type, "err", err)
	}
}

// statusFor derives the coarse status from the fine-grained phase. Cancelled
// and skipped stick: a later phase change never resurrects capital status.
func statusFor(p domain.PhaseState, current domain.TradeStatus) domain.TradeStatus {
	switch p.(type) {
	case *domain.Watching:
		return domain.StatusWatching
	case *domain.TriggerWait:
		return domain.StatusEntering
	case *domain.Live, *domain.ConfirmWait, *domain.RecoveryPending:
		return domain.StatusLive
	case *domain.Settling:
		return domain.StatusSettling
	case *domain.PostTradeMonitor:
		return domain.StatusCompleted
	case *domain.Skipped:
		return domain.StatusSkipped
	case *domain.Completed:
		if current == domain.StatusSkipped || current == domain.StatusCancelled {
			return current
		}
		return domain.StatusCompleted
	}
	return current
}
