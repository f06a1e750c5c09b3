package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies a session event.
type EventType string

const (
	EventBreakout  EventType = "breakout"
	EventEntered   EventType = "entered"
	EventExited    EventType = "exited"
	EventCancelled EventType = "cancelled"
)

// Event describes a state change, delivered through Session.OnEvent.
type Event struct {
	Seq  uint64    `json:"seq"` // delivery order, from 0
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	Breakout *Breakout `json:"breakout,omitempty"` // EventBreakout
	Trade    *Trade    `json:"trade,omitempty"`    // EventEntered, EventExited

	// EventEntered
	Reacted    bool    `json:"reacted,omitempty"`
	ReactionMs float64 `json:"reaction_ms,omitempty"`

	// EventExited
	Result     ExitResult      `json:"result"`
	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	ScoreDelta int             `json:"score_delta,omitempty"`
}
