// Package safety programs on-device countdown timers so an outlet
// reverts to a safe state when the control loop stops driving it.
package safety

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/models"
)

// CountdownProgrammer is the timer surface of outlet-style actuators.
// At most one countdown rule is active per outlet; AddCountdown is always
// preceded by ClearCountdown.
type CountdownProgrammer interface {
	ClearCountdown(ctx context.Context) error
	AddCountdown(ctx context.Context, delaySeconds int, turnOn bool) error
}

// Settings is a resolved safety configuration for one outlet.
type Settings struct {
	TargetOn       bool
	TimeoutSeconds int
	Enforce        bool
}

// Resolve picks the safety configuration for an outlet. Precedence,
// highest first: the device's own block, the shared block with the
// outlet's override merged in, the shared block, none.
func Resolve(device, shared *config.SafetyConfig, outletName string) (*Settings, error) {
	if device != nil {
		return fromConfig(device)
	}

	if shared == nil {
		return nil, nil
	}

	merged := *shared
	if override, ok := shared.Outlets[outletName]; ok {
		if override.TargetState != nil {
			merged.TargetState = *override.TargetState
		}
		if override.TimeoutSeconds != nil {
			merged.TimeoutSeconds = *override.TimeoutSeconds
		}
		if override.Enforce != nil {
			merged.Enforce = *override.Enforce
		}
	}

	return fromConfig(&merged)
}

func fromConfig(cfg *config.SafetyConfig) (*Settings, error) {
	// A block without a target state disables enforcement; the guard
	// still clears stale countdown rules, like a zero timeout.
	if cfg.TargetState == "" {
		return &Settings{TimeoutSeconds: cfg.TimeoutSeconds, Enforce: false}, nil
	}

	on, err := parseTargetState(cfg.TargetState)
	if err != nil {
		return nil, err
	}

	return &Settings{
		TargetOn:       on,
		TimeoutSeconds: cfg.TimeoutSeconds,
		Enforce:        cfg.Enforce,
	}, nil
}

func parseTargetState(state string) (bool, error) {
	switch state {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid safety target_state %q (want \"on\" or \"off\")", state)
	}
}

// Guard applies the safety state machine for one outlet after each
// commanded state. A nil Guard is a no-op for outlets without safety
// configuration.
type Guard struct {
	outlet   CountdownProgrammer
	settings Settings
	log      *logrus.Entry
}

func NewGuard(outlet CountdownProgrammer, settings Settings, deviceID string, logger *logrus.Logger) *Guard {
	return &Guard{
		outlet:   outlet,
		settings: settings,
		log: logger.WithFields(logrus.Fields{
			"component": "safety",
			"entity":    deviceID,
		}),
	}
}

// Apply re-arms or clears the countdown after a command. Programming is
// best effort: countdown failures are logged and never interrupt command
// issuance.
func (g *Guard) Apply(ctx context.Context, commandedOn bool) {
	if g == nil {
		return
	}

	if !g.settings.Enforce || g.settings.TimeoutSeconds <= 0 {
		g.clear(ctx)
		return
	}

	if commandedOn == g.settings.TargetOn {
		// Already in the fallback state; no runway needed.
		g.clear(ctx)
		return
	}

	g.clear(ctx)

	if err := g.outlet.AddCountdown(ctx, g.settings.TimeoutSeconds, g.settings.TargetOn); err != nil {
		g.log.Warnf("Unable to program %ds %s countdown; outlet is unprotected: %v",
			g.settings.TimeoutSeconds, models.StateLabel(g.settings.TargetOn), err)
		return
	}

	g.log.Debugf("Armed %s countdown in %ds", models.StateLabel(g.settings.TargetOn), g.settings.TimeoutSeconds)
}

func (g *Guard) clear(ctx context.Context) {
	if err := g.outlet.ClearCountdown(ctx); err != nil {
		g.log.Warnf("Unable to clear countdown rules: %v", err)
	}
}
