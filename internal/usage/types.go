package usage

import (
	"time"
)

// ContextID identifies a browsing context (a tab). It is opaque to the engine.
type ContextID string

// State is the tracking state of a Timer.
type State int

const (
	NotTracking State = iota
	Accruing
	Paused
)

func (s State) String() string {
	switch s {
	case NotTracking:
		return "not_tracking"
	case Accruing:
		return "accruing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Delta is an amount of accrued time owed to the ledger for one hostname on
// one calendar date.
type Delta struct {
	Hostname string  `json:"hostname"`
	Date     string  `json:"date"`
	Seconds  float64 `json:"seconds"`
}

// TimerSnapshot is a read-only view of a Timer at a point in time.
type TimerSnapshot struct {
	ID         string    `json:"id"`
	Context    ContextID `json:"context"`
	Hostname   string    `json:"hostname"`
	State      State     `json:"state"`
	Elapsed    float64   `json:"elapsed_seconds"`
	LastUpdate time.Time `json:"last_update"`
}
