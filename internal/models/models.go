package models

import (
	"sync"
	"time"
)

// Decision is the direction a property should move to reach its target range.
type Decision string

const (
	DecisionIncrease Decision = "increase"
	DecisionDecrease Decision = "decrease"
	DecisionStable   Decision = "stable"
)

// PowerCommandResult is returned by every actuator turn on/off call.
type PowerCommandResult struct {
	// CommandSent is true when a command actually reached the hardware,
	// false when the device was already in the desired state.
	CommandSent bool

	// FinalState is the post-command state when the device can report it,
	// nil when the state is unknown.
	FinalState *bool
}

// StateLabel converts an on/off bool to its config/log representation.
func StateLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// CommandName converts a desired state to the command name used in logs
// and command history.
func CommandName(on bool) string {
	if on {
		return "turn_on"
	}
	return "turn_off"
}

// Reading holds the latest values reported by a sensor, guarded for
// concurrent update from transport callbacks.
type Reading struct {
	values    map[string]float64
	timestamp time.Time
	mutex     sync.RWMutex
}

func NewReading() *Reading {
	return &Reading{}
}

func (r *Reading) Update(values map[string]float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.values = values
	r.timestamp = time.Now()
}

func (r *Reading) Get() (map[string]float64, time.Time) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.values, r.timestamp
}

// CommandRecord is one entry in the controller's audit trail of issued
// commands.
type CommandRecord struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	Device      string    `json:"device"`
	Property    string    `json:"property"`
	Command     string    `json:"command"`
	DryRun      bool      `json:"dry_run"`
	At          time.Time `json:"at"`
}
