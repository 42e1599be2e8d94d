package domain

// phase.go — the trade's fine-grained working memory.
//
// PhaseState is a sealed tagged union: one variant per phase, each carrying
// only the fields that phase needs. Transitions return the next variant, so
// illegal states are unrepresentable instead of relying on optional-field
// discipline. The union is persisted after every tick as a {phase, state}
// JSON envelope so a restart resumes mid-lifecycle.

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is the tag of a PhaseState variant.
type Phase string

const (
	PhaseWatching         Phase = "WATCHING"
	PhaseTriggerWait      Phase = "TRIGGER_WAIT"
	PhaseLive             Phase = "LIVE"
	PhaseConfirmWait      Phase = "CONFIRM_WAIT"
	PhaseRecoveryPending  Phase = "RECOVERY_PENDING"
	PhaseSettling         Phase = "SETTLING"
	PhasePostTradeMonitor Phase = "POST_TRADE_MONITOR"
	PhaseSkipped          Phase = "SKIPPED"
	PhaseCompleted        Phase = "COMPLETED"
)

// PhaseState is implemented only by the variants in this file.
type PhaseState interface {
	Phase() Phase
	sealed()
}

// PriceReading is one observed price with its timestamp, used by the
// baseline stability window and second-trigger detection.
type PriceReading struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Watching holds the rolling baseline while waiting for a trigger.
type Watching struct {
	Baseline float64        `json:"baseline"`
	Readings []PriceReading `json:"readings,omitempty"`
}

// TriggerWait is the settle period between trigger detection and entry.
// EntryRef and EntryBetID record an in-flight entry placement: a tick that
// fails mid-verification resumes that order instead of placing a second one.
type TriggerWait struct {
	Baseline     float64   `json:"baseline"`
	TriggerPrice float64   `json:"trigger_price"`
	TriggeredAt  time.Time `json:"triggered_at"`
	EntryRef     string    `json:"entry_ref,omitempty"`
	EntryBetID   string    `json:"entry_bet_id,omitempty"`
}

// Live means the entry is matched and a protective lay is outstanding.
type Live struct {
	Baseline        float64        `json:"baseline"` // pre-trigger baseline, kept for recovery pricing
	EntryPrice      float64        `json:"entry_price"`
	HedgeBetID      string         `json:"hedge_bet_id"`
	HedgePrice      float64        `json:"hedge_price"`
	HedgeSize       float64        `json:"hedge_size"`
	StablePrice     float64        `json:"stable_price"` // reference for second-trigger detection
	Readings        []PriceReading `json:"readings,omitempty"`
	EmergencyHedges int            `json:"emergency_hedges,omitempty"`
}

// ConfirmWait is the post-second-trigger confirmation period (VAR-style
// reversals). The protective order has been cancelled; its parameters are
// kept so a reversion can re-place it.
type ConfirmWait struct {
	Baseline           float64   `json:"baseline"`
	EntryPrice         float64   `json:"entry_price"`
	StablePrice        float64   `json:"stable_price"`
	SecondTriggerPrice float64   `json:"second_trigger_price"`
	SecondTriggerAt    time.Time `json:"second_trigger_at"`
	HedgePrice         float64   `json:"hedge_price"`
	HedgeSize          float64   `json:"hedge_size"`
}

// RecoveryPending means a drift-priced recovery lay is outstanding.
type RecoveryPending struct {
	Baseline      float64 `json:"baseline"`
	EntryPrice    float64 `json:"entry_price"`
	RecoveryBetID string  `json:"recovery_bet_id"`
	RecoveryPrice float64 `json:"recovery_price"`
	RecoverySize  float64 `json:"recovery_size"`
	Attempts      int     `json:"attempts"`
}

// SettleOutcome records how the capital-at-risk part of the trade ended.
type SettleOutcome string

const (
	OutcomeHedged     SettleOutcome = "HEDGED"      // protective order fully matched
	OutcomeRecovered  SettleOutcome = "RECOVERED"   // recovery order fully matched
	OutcomeUnhedged   SettleOutcome = "UNHEDGED"    // market closed with verified zero hedge
	OutcomeUnresolved SettleOutcome = "UNRESOLVED"  // retries exhausted, exposure state ambiguous
)

// Settling hands off to the settlement calculator.
type Settling struct {
	Outcome    SettleOutcome `json:"outcome"`
	EntryPrice float64       `json:"entry_price"`
}

// PostTradeMonitor continues shadow analytics after settlement.
type PostTradeMonitor struct {
	Shadow ShadowTrack `json:"shadow"`
}

// Skipped is terminal for capital; the shadow monitor keeps observing what
// the trade would have done until its window closes.
type Skipped struct {
	Reason string       `json:"reason"`
	Shadow *ShadowTrack `json:"shadow,omitempty"`
}

// Completed is the final resting state.
type Completed struct{}

func (*Watching) Phase() Phase         { return PhaseWatching }
func (*TriggerWait) Phase() Phase      { return PhaseTriggerWait }
func (*Live) Phase() Phase             { return PhaseLive }
func (*ConfirmWait) Phase() Phase      { return PhaseConfirmWait }
func (*RecoveryPending) Phase() Phase  { return PhaseRecoveryPending }
func (*Settling) Phase() Phase         { return PhaseSettling }
func (*PostTradeMonitor) Phase() Phase { return PhasePostTradeMonitor }
func (*Skipped) Phase() Phase          { return PhaseSkipped }
func (*Completed) Phase() Phase        { return PhaseCompleted }

func (*Watching) sealed()         {}
func (*TriggerWait) sealed()      {}
func (*Live) sealed()             {}
func (*ConfirmWait) sealed()      {}
func (*RecoveryPending) sealed()  {}
func (*Settling) sealed()         {}
func (*PostTradeMonitor) sealed() {}
func (*Skipped) sealed()          {}
func (*Completed) sealed()        {}

// phaseEnvelope is the persisted form of a PhaseState.
type phaseEnvelope struct {
	Phase Phase           `json:"phase"`
	State json.RawMessage `json:"state"`
}

// EncodePhaseState serializes a variant into its {phase, state} envelope.
func EncodePhaseState(s PhaseState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("domain.EncodePhaseState: nil state")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("domain.EncodePhaseState: marshal %s: %w", s.Phase(), err)
	}
	return json.Marshal(phaseEnvelope{Phase: s.Phase(), State: raw})
}

// DecodePhaseState restores a variant from its envelope.
func DecodePhaseState(b []byte) (PhaseState, error) {
	var env phaseEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("domain.DecodePhaseState: envelope: %w", err)
	}

	var state PhaseState
	switch env.Phase {
	case PhaseWatching:
		state = &Watching{}
	case PhaseTriggerWait:
		state = &TriggerWait{}
	case PhaseLive:
		state = &Live{}
	case PhaseConfirmWait:
		state = &ConfirmWait{}
	case PhaseRecoveryPending:
		state = &RecoveryPending{}
	case PhaseSettling:
		state = &Settling{}
	case PhasePostTradeMonitor:
		state = &PostTradeMonitor{}
	case PhaseSkipped:
		state = &Skipped{}
	case PhaseCompleted:
		state = &Completed{}
	default:
		return nil, fmt.Errorf("domain.DecodePhaseState: unknown phase %q", env.Phase)
	}

	if len(env.State) > 0 {
		if err := json.Unmarshal(env.State, state); err != nil {
			return nil, fmt.Errorf("domain.DecodePhaseState: state %s: %w", env.Phase, err)
		}
	}
	return state, nil
}
