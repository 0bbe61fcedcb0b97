// Package events provides a lightweight audit-trail emitter for trade
// lifecycle transitions. It does not drive any control flow — the
// Facade calls it purely so an operator tailing logs sees
// a structured, greppable record of what happened to which trade,
// independent of the ordinary per-call debug/info lines.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a trade lifecycle or account milestone.
type EventType string

const (
	TradeCreated    EventType = "TRADE_CREATED"
	TradeFunded     EventType = "TRADE_FUNDED"
	TradeSubmitted  EventType = "TRADE_SUBMITTED"
	TradeCanceled   EventType = "TRADE_CANCELED"
	TradeClosed     EventType = "TRADE_CLOSED"
	TradeRejected   EventType = "TRADE_REJECTED"
	RiskViolation   EventType = "RISK_VIOLATION"
	DepositPosted   EventType = "DEPOSIT_POSTED"
	WithdrawPosted  EventType = "WITHDRAW_POSTED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// Event is a structured, JSON-loggable record of one milestone.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager emits events to the structured logger. It keeps no history and
// has no subscribers; "emitting" here means "logging in a consistent,
// machine-parseable shape" rather than publishing to a bus.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "events").Logger()}
}

// Emit logs one event.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data, Module: module}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("trade lifecycle event")
}

// EmitError logs an error event alongside whatever context the caller
// already has on hand (trade id, account id, and so on).
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	m.Emit(ErrorOccurred, module, data)
}
