package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an entry in the append-only trade event log.
type EventType string

const (
	EventPhaseTransition EventType = "PHASE_TRANSITION"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderMatched    EventType = "ORDER_MATCHED"
	EventOrderCancelled  EventType = "ORDER_CANCELLED"
	EventOrderRejected   EventType = "ORDER_REJECTED"
	EventEmergencyHedge  EventType = "EMERGENCY_HEDGE"
	EventSettlement      EventType = "SETTLEMENT"
	EventShadowFrozen    EventType = "SHADOW_FROZEN"
	EventShadowClosed    EventType = "SHADOW_CLOSED"
	EventError           EventType = "ERROR"
)

// TradeEvent is an immutable, timestamped log entry. Created on every phase
// transition and order outcome; never mutated.
type TradeEvent struct {
	ID         string
	TradeID    int64
	Type       EventType
	Payload    json.RawMessage
	OccurredAt time.Time
}

// NewEvent builds a TradeEvent with a fresh id and a marshalled payload.
// A payload that fails to marshal is recorded as null rather than dropped.
func NewEvent(tradeID int64, typ EventType, payload any) TradeEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return TradeEvent{
		ID:         uuid.New().String(),
		TradeID:    tradeID,
		Type:       typ,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}
}

// TransitionPayload is the standard payload for EventPhaseTransition.
type TransitionPayload struct {
	From   Phase   `json:"from"`
	To     Phase   `json:"to"`
	Reason string  `json:"reason,omitempty"`
	Price  float64 `json:"price,omitempty"`
}

// OrderPayload is the standard payload for order lifecycle events.
type OrderPayload struct {
	BetID       string  `json:"bet_id,omitempty"`
	CustomerRef string  `json:"customer_ref,omitempty"`
	Side        Side    `json:"side,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Size        float64 `json:"size,omitempty"`
	Matched     float64 `json:"matched,omitempty"`
	Remaining   float64 `json:"remaining,omitempty"`
	ErrorCode   string  `json:"error_code,omitempty"`
}

// SettlementPayload is the standard payload for EventSettlement.
type SettlementPayload struct {
	Outcome  SettleOutcome `json:"outcome"`
	PnL      float64       `json:"pnl"`
	PnLKnown bool          `json:"pnl_known"`
}
