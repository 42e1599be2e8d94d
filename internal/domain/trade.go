package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// TradeStatus is the coarse lifecycle of a trade.
type TradeStatus string

const (
	StatusScheduled TradeStatus = "SCHEDULED"
	StatusWatching  TradeStatus = "WATCHING"
	StatusEntering  TradeStatus = "ENTERING"
	StatusLive      TradeStatus = "LIVE"
	StatusSettling  TradeStatus = "SETTLING"
	StatusCompleted TradeStatus = "COMPLETED"
	StatusSkipped   TradeStatus = "SKIPPED"
	StatusCancelled TradeStatus = "CANCELLED"
)

// Terminal reports whether no further capital-relevant work remains.
// Skipped trades may still be shadow-monitored; the scheduler checks the
// phase for that, not the status.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Fixture is a discovered event we may trade. Discovery itself is external;
// the engine only reads this table and seeds a scheduled trade per fixture.
type Fixture struct {
	EventID     string
	Competition string
	Name        string
	KickoffAt   time.Time
	MarketID    string
	SelectionID int64
}

// Trade is one market position lifecycle, keyed by (strategy, venue event id).
// Mutated exclusively by the state machine and the settlement calculator;
// never deleted, only terminated.
type Trade struct {
	ID              int64
	Strategy        string
	EventID         string
	Competition     string
	EventName       string
	KickoffAt       time.Time
	MarketID        string
	SelectionID     int64
	Status          TradeStatus
	Phase           PhaseState

	BackPrice       float64 // VWAP of the matched entry
	BackStake       float64 // requested entry stake
	BackMatchedSize float64 // monotonically non-decreasing while live
	LayPrice        float64 // VWAP of the matched hedge
	LaySize         float64 // requested hedge size
	LayMatchedSize  float64
	TargetStake     float64 // green-up hedge size computed at entry

	RealisedPnL float64
	PnLKnown    bool // false after completion means explicitly unknown, never a silent zero
	LastError   string
	SettledAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordBackMatched enforces the monotonic matched-size invariant: the entry
// matched size never shrinks except through a verified cancellation.
func (t *Trade) RecordBackMatched(size float64) error {
	if size < t.BackMatchedSize-1e-9 {
		return fmt.Errorf("domain.RecordBackMatched: matched size revised down (%.2f -> %.2f) without verified cancellation",
			t.BackMatchedSize, size)
	}
	t.BackMatchedSize = size
	return nil
}

// MinuteOfMatch returns whole minutes elapsed since kickoff, negative pre-match.
func (t *Trade) MinuteOfMatch(now time.Time) int {
	return int(now.Sub(t.KickoffAt).Minutes())
}

// StrategyParams are the resolved, immutable policy parameters for one
// strategy instance. Built once at startup from config defaults plus the
// per-strategy `settings` table; never reconstructed per call.
type StrategyParams struct {
	Name                 string
	BackStake            float64
	TriggerMovePct       float64
	TriggerSettle        time.Duration
	ConfirmWait          time.Duration
	CutoffMinute         int
	EntryBandMin         float64
	EntryBandMax         float64
	ProfitTargetPct      float64
	RecoveryDriftPct     float64
	CommissionRate       float64
	MaxRecoveryRetries   int
	BaselineWindow       int
	BaselineTolerancePct float64
}

// ResolveParams applies per-strategy settings rows on top of the defaults.
// Unknown keys are ignored; malformed numbers keep the default.
func ResolveParams(defaults StrategyParams, settings map[string]string) StrategyParams {
	p := defaults
	setF := func(key string, dst *float64) {
		if v, ok := settings[key]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
				*dst = f
			}
		}
	}
	setI := func(key string, dst *int) {
		if v, ok := settings[key]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setD := func(key string, dst *time.Duration) {
		if v, ok := settings[key]; ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				*dst = time.Duration(secs) * time.Second
			}
		}
	}

	setF("back_stake", &p.BackStake)
	setF("trigger_move_pct", &p.TriggerMovePct)
	setD("trigger_settle_seconds", &p.TriggerSettle)
	setD("confirm_wait_seconds", &p.ConfirmWait)
	setI("cutoff_minute", &p.CutoffMinute)
	setF("entry_band_min", &p.EntryBandMin)
	setF("entry_band_max", &p.EntryBandMax)
	setF("profit_target_pct", &p.ProfitTargetPct)
	setF("recovery_drift_pct", &p.RecoveryDriftPct)
	setF("commission_rate", &p.CommissionRate)
	setI("max_recovery_retries", &p.MaxRecoveryRetries)
	setI("baseline_window", &p.BaselineWindow)
	setF("baseline_tolerance_pct", &p.BaselineTolerancePct)
	return p
}
