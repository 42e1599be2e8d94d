package engine

// scheduler.go — dual-cadence scheduling.
//
// Idle, the process sleeps until the next kickoff lead; with any trade in an
// active phase it runs a single sub-minute polling loop. The loop is
// idempotent to start: asking for it while it already runs is a no-op, so
// overlapping wake-ups can never stack pollers.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oddsflow/hedger/internal/domain"
	"github.com/oddsflow/hedger/internal/ports"
)

const (
	minWake = time.Minute
	maxWake = 24 * time.Hour
)

// SchedulerConfig controls cadence and tick concurrency.
type SchedulerConfig struct {
	ActivePoll     time.Duration
	KickoffLead    time.Duration
	TrailingWindow time.Duration
	Workers        int
}

// Scheduler decides when trades tick and fans ticks out over a bounded pool.
type Scheduler struct {
	engine *Engine
	store  ports.TradeStore
	cfg    SchedulerConfig

	mu         sync.Mutex
	activeDone chan struct{}
	activeStop context.CancelFunc

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// NewScheduler wires the scheduler to an engine and its store.
func NewScheduler(eng *Engine, store ports.TradeStore, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Scheduler{
		engine:   eng,
		store:    store,
		cfg:      cfg,
		inflight: make(map[int64]struct{}),
	}
}

// Run is the outer loop: evaluate the wake policy, either hand control to
// the active poller or sleep until the next kickoff lead. Blocks until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: running", "active_poll", s.cfg.ActivePoll, "workers", s.cfg.Workers)
	defer s.stopActive()

	for {
		trades, err := s.store.ListTrades(ctx, s.engine.Params().Name)
		if err != nil {
			slog.Error("scheduler: listing trades failed", "err", err)
			if serr := sleepCtx(ctx, minWake); serr != nil {
				return serr
			}
			continue
		}

		now := time.Now().UTC()
		wake := s.NextWake(now, trades)

		if wake == 0 {
			s.startActive(ctx)
			// Re-evaluate after one poll period; the active loop stops
			// itself when nothing needs sub-minute attention anymore.
			if err := sleepCtx(ctx, s.cfg.ActivePoll); err != nil {
				return err
			}
			continue
		}

		s.stopActive()
		slog.Info("scheduler: sleeping", "wake_in", wake.Round(time.Second))
		if err := sleepCtx(ctx, wake); err != nil {
			return err
		}
	}
}

// RunOnce ticks every trade needing attention exactly once (for -once mode).
func (s *Scheduler) RunOnce(ctx context.Context) error {
	trades, err := s.store.ListTrades(ctx, s.engine.Params().Name)
	if err != nil {
		return err
	}
	s.tickBatch(ctx, time.Now().UTC(), trades)
	return nil
}

// NextWake returns 0 when any trade needs sub-minute polling now, otherwise
// the duration until the nearest kickoff lead, clamped to [1m, 24h].
func (s *Scheduler) NextWake(now time.Time, trades []*domain.Trade) time.Duration {
	next := maxWake

	for _, t := range trades {
		if s.needsTick(t, now) {
			return 0
		}
		if t.Status != domain.StatusScheduled {
			continue
		}
		lead := t.KickoffAt.Add(-s.cfg.KickoffLead)
		if d := lead.Sub(now); d > 0 && d < next {
			next = d
		}
	}

	if next < minWake {
		next = minWake
	}
	return next
}

// needsTick reports whether a trade needs attention right now. The phase
// decides for terminal statuses: skipped and completed trades may still run
// their shadow monitor.
func (s *Scheduler) needsTick(t *domain.Trade, now time.Time) bool {
	switch t.Status {
	case domain.StatusScheduled:
		// Inside the lead or already kicked off. A trade that missed the
		// whole activation window still gets dispatched once so the tick
		// can cancel it.
		return !now.Before(t.KickoffAt.Add(-s.cfg.KickoffLead))
	case domain.StatusWatching, domain.StatusEntering, domain.StatusLive, domain.StatusSettling:
		return true
	case domain.StatusCancelled:
		return false
	}

	switch ph := t.Phase.(type) {
	case *domain.PostTradeMonitor:
		return !ph.Shadow.Done
	case *domain.Skipped:
		return ph.Shadow != nil && !ph.Shadow.Done
	}
	return false
}

// startActive launches the sub-minute poller if it is not already running.
func (s *Scheduler) startActive(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDone != nil {
		select {
		case <-s.activeDone:
			// finished on its own, fall through and restart
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.activeDone = done
	s.activeStop = cancel

	go func() {
		defer close(done)
		s.activeLoop(ctx)
	}()
	slog.Info("scheduler: active polling started")
}

func (s *Scheduler) stopActive() {
	s.mu.Lock()
	cancel, done := s.activeStop, s.activeDone
	s.activeStop, s.activeDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("scheduler: active polling stopped")
}

// activeLoop ticks all due trades every ActivePoll until none needs
// sub-minute attention or the context is cancelled.
func (s *Scheduler) activeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ActivePoll)
	defer ticker.Stop()

	for {
		trades, err := s.store.ListTrades(ctx, s.engine.Params().Name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("scheduler: active list failed", "err", err)
		} else {
			now := time.Now().UTC()
			if s.tickBatch(ctx, now, trades) == 0 {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tickBatch dispatches one tick per due trade over the worker pool and
// returns how many trades were due. A trade whose previous tick is still
// in flight is skipped, never queued twice.
func (s *Scheduler) tickBatch(ctx context.Context, now time.Time, trades []*domain.Trade) int {
	due := 0
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup

	for _, t := range trades {
		if !s.needsTick(t, now) {
			continue
		}
		due++

		if !s.acquire(t.ID) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.release(t.ID)
			wg.Wait()
			return due
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer s.release(id)
			defer func() { <-sem }()
			if err := s.engine.Tick(ctx, id); err != nil && ctx.Err() == nil {
				slog.Warn("scheduler: tick failed", "trade", id, "err", err)
			}
		}(t.ID)
	}

	wg.Wait()
	return due
}

func (s *Scheduler) acquire(id int64) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}
