package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsflow/hedger/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.ApplySchema(context.Background()))
	return store
}

func sampleTrade(eventID string) *domain.Trade {
	return &domain.Trade{
		Strategy:    "goal-hedge",
		EventID:     eventID,
		Competition: "La Liga",
		EventName:   "Local vs Visitante",
		KickoffAt:   time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		MarketID:    "1.234567",
		SelectionID: 55555,
		Status:      domain.StatusScheduled,
		Phase:       &domain.Watching{},
		BackStake:   50,
	}
}

func TestCreateAndGetTrade_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := sampleTrade("EV-1")
	require.NoError(t, store.CreateTrade(ctx, trade))
	require.NotZero(t, trade.ID)

	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.EventID, got.EventID)
	assert.Equal(t, domain.StatusScheduled, got.Status)
	assert.Equal(t, domain.PhaseWatching, got.Phase.Phase())
	assert.Equal(t, trade.KickoffAt, got.KickoffAt.UTC())
	assert.Nil(t, got.SettledAt)
	assert.False(t, got.PnLKnown)
}

func TestCreateTrade_DuplicateEventRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTrade(ctx, sampleTrade("EV-1")))
	// Un trade por (strategy, event): el segundo insert falla.
	assert.Error(t, store.CreateTrade(ctx, sampleTrade("EV-1")))
}

func TestUpdateTrade_PersistsPhaseState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := sampleTrade("EV-1")
	require.NoError(t, store.CreateTrade(ctx, trade))

	settled := time.Date(2026, 3, 14, 20, 40, 0, 0, time.UTC)
	trade.Status = domain.StatusLive
	trade.Phase = &domain.Live{
		Baseline: 2.0, EntryPrice: 2.70,
		HedgeBetID: "B-1", HedgePrice: 2.46, HedgeSize: 54.88, StablePrice: 2.70,
	}
	trade.BackPrice = 2.70
	trade.BackMatchedSize = 50
	trade.LayMatchedSize = 10
	trade.LayPrice = 2.46
	trade.SettledAt = &settled
	trade.PnLKnown = true
	trade.RealisedPnL = 4.63
	require.NoError(t, store.UpdateTrade(ctx, trade))

	// Un restart reanuda exactamente donde quedó el trade.
	got, err := store.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseLive, got.Phase.Phase())
	live := got.Phase.(*domain.Live)
	assert.Equal(t, "B-1", live.HedgeBetID)
	assert.InDelta(t, 2.46, live.HedgePrice, 0.0001)
	assert.InDelta(t, 50.0, got.BackMatchedSize, 0.0001)
	assert.True(t, got.PnLKnown)
	require.NotNil(t, got.SettledAt)
	assert.Equal(t, settled, got.SettledAt.UTC())
}

func TestListTradesByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleTrade("EV-1")
	b := sampleTrade("EV-2")
	b.Status = domain.StatusLive
	b.Phase = &domain.Live{EntryPrice: 2.7}
	require.NoError(t, store.CreateTrade(ctx, a))
	require.NoError(t, store.CreateTrade(ctx, b))

	live, err := store.ListTradesByStatus(ctx, domain.StatusLive)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "EV-2", live[0].EventID)

	all, err := store.ListTrades(ctx, "goal-hedge")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventLog_AppendOnlyChronological(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := sampleTrade("EV-1")
	require.NoError(t, store.CreateTrade(ctx, trade))

	e1 := domain.NewEvent(trade.ID, domain.EventPhaseTransition, domain.TransitionPayload{From: domain.PhaseWatching, To: domain.PhaseTriggerWait})
	e2 := domain.NewEvent(trade.ID, domain.EventOrderPlaced, domain.OrderPayload{BetID: "B-1", Side: domain.SideBack, Price: 2.7, Size: 50})
	require.NoError(t, store.AppendEvent(ctx, e1))
	require.NoError(t, store.AppendEvent(ctx, e2))

	events, err := store.ListEvents(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPhaseTransition, events[0].Type)
	assert.Equal(t, domain.EventOrderPlaced, events[1].Type)
	assert.JSONEq(t, string(e2.Payload), string(events[1].Payload))
}

func TestFixtures_UpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := domain.Fixture{
		EventID: "EV-1", Competition: "La Liga", Name: "Local vs Visitante",
		KickoffAt: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		MarketID:  "1.234567", SelectionID: 55555,
	}
	require.NoError(t, store.UpsertFixture(ctx, f))

	f.MarketID = "1.999999"
	require.NoError(t, store.UpsertFixture(ctx, f))

	fixtures, err := store.ListFixtures(ctx)
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, "1.999999", fixtures[0].MarketID)
}

func TestLoadSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO settings (strategy, key, value) VALUES
			('goal-hedge', 'back_stake', '25'),
			('goal-hedge', 'cutoff_minute', '40'),
			('other', 'back_stake', '99')`)
	require.NoError(t, err)

	settings, err := store.LoadSettings(ctx, "goal-hedge")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"back_stake": "25", "cutoff_minute": "40"}, settings)

	empty, err := store.LoadSettings(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetStats_CountsUnknownPnLSeparately(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settled := time.Date(2026, 3, 14, 20, 40, 0, 0, time.UTC)

	win := sampleTrade("EV-1")
	require.NoError(t, store.CreateTrade(ctx, win))
	win.Status = domain.StatusCompleted
	win.Phase = &domain.Completed{}
	win.BackMatchedSize = 50
	win.RealisedPnL = 4.63
	win.PnLKnown = true
	win.SettledAt = &settled
	require.NoError(t, store.UpdateTrade(ctx, win))

	loss := sampleTrade("EV-2")
	require.NoError(t, store.CreateTrade(ctx, loss))
	loss.Status = domain.StatusCompleted
	loss.Phase = &domain.Completed{}
	loss.BackMatchedSize = 50
	loss.RealisedPnL = -50
	loss.PnLKnown = true
	loss.SettledAt = &settled
	require.NoError(t, store.UpdateTrade(ctx, loss))

	// Completado pero con P&L desconocido: cuenta aparte, nunca como cero.
	unknown := sampleTrade("EV-3")
	require.NoError(t, store.CreateTrade(ctx, unknown))
	unknown.Status = domain.StatusCompleted
	unknown.Phase = &domain.Completed{}
	unknown.BackMatchedSize = 50
	unknown.PnLKnown = false
	unknown.SettledAt = &settled
	require.NoError(t, store.UpdateTrade(ctx, unknown))

	skipped := sampleTrade("EV-4")
	skipped.Status = domain.StatusSkipped
	skipped.Phase = &domain.Skipped{Reason: "entry out of band"}
	require.NoError(t, store.CreateTrade(ctx, skipped))

	stats, err := store.GetStats(ctx, "goal-hedge")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.UnknownPnL)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 150.0, stats.TotalStaked, 0.0001)
	assert.InDelta(t, -45.37, stats.TotalPnL, 0.0001)
	require.NotNil(t, stats.FirstSettled)
}

func TestPnLByCompetition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	settled := time.Now().UTC()

	for i, comp := range []string{"La Liga", "La Liga", "Serie A"} {
		trade := sampleTrade(string(rune('A' + i)))
		trade.Competition = comp
		require.NoError(t, store.CreateTrade(ctx, trade))
		trade.Status = domain.StatusCompleted
		trade.Phase = &domain.Completed{}
		trade.BackMatchedSize = 50
		trade.RealisedPnL = 5
		trade.PnLKnown = true
		trade.SettledAt = &settled
		require.NoError(t, store.UpdateTrade(ctx, trade))
	}

	rows, err := store.PnLByCompetition(ctx, "goal-hedge")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "La Liga", rows[0].Competition)
	assert.Equal(t, 2, rows[0].Trades)
	assert.InDelta(t, 10.0, rows[0].PnL, 0.0001)
}

func TestExposureBuckets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kickoff := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	for i, mins := range []int{3, 4, 12} {
		trade := sampleTrade(string(rune('A' + i)))
		trade.KickoffAt = kickoff
		require.NoError(t, store.CreateTrade(ctx, trade))
		trade.Status = domain.StatusCompleted
		trade.Phase = &domain.Completed{}
		trade.BackMatchedSize = 50
		trade.PnLKnown = true
		settled := kickoff.Add(time.Duration(mins) * time.Minute)
		trade.SettledAt = &settled
		require.NoError(t, store.UpdateTrade(ctx, trade))
	}

	buckets, err := store.ExposureBuckets(ctx, "goal-hedge", 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 5*time.Minute, buckets[0].UpperBound)
	assert.Equal(t, 2, buckets[0].Trades)
	assert.Equal(t, 15*time.Minute, buckets[1].UpperBound)
	assert.Equal(t, 1, buckets[1].Trades)
}
