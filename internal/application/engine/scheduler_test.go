package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsflow/hedger/internal/domain"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	eng, _, store := newHarness(t)
	return NewScheduler(eng, store, SchedulerConfig{
		ActivePoll:     10 * time.Millisecond,
		KickoffLead:    5 * time.Minute,
		TrailingWindow: 90 * time.Minute,
		Workers:        2,
	})
}

func scheduledTrade(kickoff time.Time) *domain.Trade {
	return &domain.Trade{
		ID: 1, Status: domain.StatusScheduled, Phase: &domain.Watching{}, KickoffAt: kickoff,
	}
}

func TestNextWake_ActiveTradeWakesNow(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	for _, status := range []domain.TradeStatus{
		domain.StatusWatching, domain.StatusEntering, domain.StatusLive, domain.StatusSettling,
	} {
		trades := []*domain.Trade{{ID: 1, Status: status, Phase: &domain.Watching{}}}
		assert.Equal(t, time.Duration(0), s.NextWake(now, trades), "status %s", status)
	}
}

func TestNextWake_KickedOffScheduledWakesNow(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	// Kickoff hace 10 minutos, dentro de la ventana trailing.
	trades := []*domain.Trade{scheduledTrade(now.Add(-10 * time.Minute))}
	assert.Equal(t, time.Duration(0), s.NextWake(now, trades))

	// Dentro del lead pre-kickoff también.
	trades = []*domain.Trade{scheduledTrade(now.Add(3 * time.Minute))}
	assert.Equal(t, time.Duration(0), s.NextWake(now, trades))
}

func TestNextWake_FutureKickoffSleepsUntilLead(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	trades := []*domain.Trade{scheduledTrade(now.Add(2 * time.Hour))}
	wake := s.NextWake(now, trades)
	assert.InDelta(t, (2*time.Hour - 5*time.Minute).Seconds(), wake.Seconds(), 1)

	// Clamp inferior: nunca menos de un minuto.
	trades = []*domain.Trade{scheduledTrade(now.Add(5*time.Minute + 20*time.Second))}
	assert.Equal(t, minWake, s.NextWake(now, trades))
}

func TestNextWake_NothingPendingSleepsMax(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	sh := domain.ShadowTrack{Done: true}
	trades := []*domain.Trade{
		{ID: 1, Status: domain.StatusCompleted, Phase: &domain.Completed{}},
		{ID: 2, Status: domain.StatusSkipped, Phase: &domain.Skipped{Shadow: &sh}},
		{ID: 3, Status: domain.StatusCancelled, Phase: &domain.Completed{}},
	}
	assert.Equal(t, maxWake, s.NextWake(now, trades))
	assert.Equal(t, maxWake, s.NextWake(now, nil))
}

// Un scheduled que perdió toda su ventana se despacha igualmente: el tick es
// quien lo cancela y lo deja terminal.
func TestNextWake_MissedWindowScheduledWakesNow(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	trades := []*domain.Trade{scheduledTrade(now.Add(-3 * time.Hour))}
	assert.Equal(t, time.Duration(0), s.NextWake(now, trades))
}

func TestRunOnce_CancelsMissedActivationWindow(t *testing.T) {
	eng, _, store := newHarness(t)
	s := NewScheduler(eng, store, SchedulerConfig{
		ActivePoll:     10 * time.Millisecond,
		KickoffLead:    5 * time.Minute,
		TrailingWindow: 90 * time.Minute,
		Workers:        2,
	})

	// Kickoff hace 3 horas con trailing de 90 minutos: ventana perdida.
	trade := makeTrade(t, store, domain.StatusScheduled, &domain.Watching{}, 3*time.Hour)

	require.NoError(t, s.RunOnce(context.Background()))

	got := reload(t, store, trade.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.PhaseCompleted, got.Phase.Phase())
	// Una vez cancelado deja de reclamar atención.
	assert.False(t, s.needsTick(got, time.Now().UTC()))
}

func TestNeedsTick_ShadowKeepsTerminalTradesPolling(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	active := domain.NewShadowTrack(now.Add(-2*time.Minute), 2.7)
	done := domain.ShadowTrack{Done: true}

	assert.True(t, s.needsTick(&domain.Trade{
		Status: domain.StatusSkipped, Phase: &domain.Skipped{Shadow: &active},
	}, now))
	assert.False(t, s.needsTick(&domain.Trade{
		Status: domain.StatusSkipped, Phase: &domain.Skipped{Shadow: &done},
	}, now))
	assert.False(t, s.needsTick(&domain.Trade{
		Status: domain.StatusSkipped, Phase: &domain.Skipped{},
	}, now))

	assert.True(t, s.needsTick(&domain.Trade{
		Status: domain.StatusCompleted, Phase: &domain.PostTradeMonitor{Shadow: active},
	}, now))
	assert.False(t, s.needsTick(&domain.Trade{
		Status: domain.StatusCompleted, Phase: &domain.Completed{},
	}, now))
}

func TestStartActive_Idempotent(t *testing.T) {
	eng, fv, store := newHarness(t)
	s := NewScheduler(eng, store, SchedulerConfig{
		ActivePoll:     10 * time.Millisecond,
		KickoffLead:    5 * time.Minute,
		TrailingWindow: 90 * time.Minute,
		Workers:        2,
	})
	// Un trade activo mantiene vivo el loop hasta que lo paremos.
	makeTrade(t, store, domain.StatusWatching, &domain.Watching{Baseline: 2.0}, 20*time.Minute)
	fv.setBook(makeBook(domain.MarketOpen, 2.05, 2.05, 2.07))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.startActive(ctx)
	first := s.activeDone
	require.NotNil(t, first)

	// Pedir el loop activo con uno ya corriendo es un no-op.
	s.startActive(ctx)
	assert.Equal(t, first, s.activeDone)

	s.stopActive()
	assert.Nil(t, s.activeDone)
}

func TestTickBatch_SkipsInflightTrades(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now().UTC()

	// Marca el trade como in-flight: el batch no debe volver a encolarlo.
	require.True(t, s.acquire(42))
	defer s.release(42)

	trades := []*domain.Trade{{ID: 42, Status: domain.StatusWatching, Phase: &domain.Watching{}, KickoffAt: now}}
	due := s.tickBatch(context.Background(), now, trades)
	assert.Equal(t, 1, due)

	// Sigue marcado por este test, no por un tick fantasma.
	assert.False(t, s.acquire(42))
}

func TestRunOnce_TicksDueTrades(t *testing.T) {
	eng, fv, store := newHarness(t)
	s := NewScheduler(eng, store, SchedulerConfig{
		ActivePoll:     10 * time.Millisecond,
		KickoffLead:    5 * time.Minute,
		TrailingWindow: 90 * time.Minute,
		Workers:        2,
	})

	trade := makeTrade(t, store, domain.StatusWatching, &domain.Watching{Baseline: 2.0}, 20*time.Minute)
	fv.setBook(makeBook(domain.MarketOpen, 2.70, 2.70, 2.72))

	require.NoError(t, s.RunOnce(context.Background()))

	got := reload(t, store, trade.ID)
	assert.Equal(t, domain.PhaseTriggerWait, got.Phase.Phase())
}
