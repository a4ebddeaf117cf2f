// Package controller turns sensor readings into device commands: it
// resolves the active schedule per property, derives a directional
// decision, maps it through per-device effect policies and issues
// debounced, idempotent power commands.
package controller

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/devices"
	"enviroctl/internal/models"
	"enviroctl/internal/schedule"
)

const auditTrailSize = 50

// Effect is a device's normalized influence on one property: a complete
// decision-to-action policy.
type Effect struct {
	Property string
	// Policy maps every decision to "on", "off" or a no-command marker.
	Policy map[models.Decision]string
}

type historyKey struct {
	device   string
	property string
}

type historyEntry struct {
	command string
	at      time.Time
}

type propertyKey struct {
	environment string
	property    string
}

type statusSnapshot struct {
	value    float64
	decision models.Decision
	target   string
}

type Controller struct {
	environments []config.EnvironmentConfig
	resolver     *schedule.Resolver
	effects      map[string][]Effect
	devices      map[string]devices.Actuator

	dryRun       bool
	debounce     time.Duration
	stateRefresh time.Duration

	logger *logrus.Logger
	now    func() time.Time

	// All engine state below is owned by the evaluation loop; the mutex
	// only exists because GetStatus is served from the web goroutine.
	mutex       sync.Mutex
	history     map[historyKey]historyEntry
	lastMissing map[propertyKey]time.Time
	lastStatus  map[propertyKey]statusSnapshot
	audit       []models.CommandRecord
}

// New validates the decision-relevant configuration shape and builds the
// engine. Configuration errors are fatal: the controller refuses to run
// rather than fail mid-operation.
func New(cfg *config.Config, resolver *schedule.Resolver, registry map[string]devices.Actuator, logger *logrus.Logger) (*Controller, error) {
	effects, err := normalizeEffects(cfg.Devices)
	if err != nil {
		return nil, err
	}

	if err := validateControllers(cfg.Environments, cfg.Devices, effects); err != nil {
		return nil, err
	}

	return &Controller{
		environments: cfg.Environments,
		resolver:     resolver,
		effects:      effects,
		devices:      registry,
		dryRun:       cfg.Runtime.DryRun,
		debounce:     time.Duration(cfg.Runtime.DebounceSeconds * float64(time.Second)),
		stateRefresh: time.Duration(cfg.Runtime.StateRefreshSeconds * float64(time.Second)),
		logger:       logger,
		now:          time.Now,
		history:      make(map[historyKey]historyEntry),
		lastMissing:  make(map[propertyKey]time.Time),
		lastStatus:   make(map[propertyKey]statusSnapshot),
	}, nil
}

// normalizeEffects resolves each device's effect list (falling back to
// the defaults for its role) and expands legacy types into complete
// policies. Incomplete or contradictory declarations fail construction.
func normalizeEffects(cfg config.DevicesConfig) (map[string][]Effect, error) {
	normalized := make(map[string][]Effect, len(cfg.Definitions))

	for _, device := range cfg.Definitions {
		declared := device.Effects
		if len(declared) == 0 {
			declared = cfg.Defaults.Effects[device.What]
		}

		effects := make([]Effect, 0, len(declared))
		for i, effect := range declared {
			policy, err := normalizePolicy(effect)
			if err != nil {
				return nil, fmt.Errorf("device %q effect %d: %w", device.ID, i, err)
			}
			effects = append(effects, Effect{Property: effect.Property, Policy: policy})
		}

		normalized[device.ID] = effects
	}

	return normalized, nil
}

func normalizePolicy(effect config.EffectConfig) (map[models.Decision]string, error) {
	if effect.Property == "" {
		return nil, fmt.Errorf("missing property")
	}

	if len(effect.Policy) > 0 {
		if effect.Type != "" {
			return nil, fmt.Errorf("declares both type and policy")
		}

		policy := make(map[models.Decision]string, 3)
		for _, decision := range []models.Decision{models.DecisionIncrease, models.DecisionDecrease, models.DecisionStable} {
			raw, ok := effect.Policy[string(decision)]
			if !ok {
				return nil, fmt.Errorf("policy is missing the %q decision", decision)
			}
			policy[decision] = policyAction(raw)
		}

		return policy, nil
	}

	// Legacy declarations: an increase effect turns on to raise the
	// property, a decrease effect turns on to lower it, and both rest
	// in the off state otherwise.
	switch effect.Type {
	case "increase":
		return map[models.Decision]string{
			models.DecisionIncrease: "on",
			models.DecisionDecrease: "off",
			models.DecisionStable:   "off",
		}, nil
	case "decrease":
		return map[models.Decision]string{
			models.DecisionIncrease: "off",
			models.DecisionDecrease: "on",
			models.DecisionStable:   "off",
		}, nil
	case "":
		return nil, fmt.Errorf("declares neither type nor policy")
	default:
		return nil, fmt.Errorf("unknown effect type %q", effect.Type)
	}
}

// policyAction normalizes one policy value. YAML parses bare on/off as
// booleans; anything other than on/off means "no command".
func policyAction(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case bool:
		return models.StateLabel(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// validateControllers checks that every device referenced as a property
// controller is defined and declares at least one effect.
func validateControllers(environments []config.EnvironmentConfig, cfg config.DevicesConfig, effects map[string][]Effect) error {
	defined := make(map[string]bool, len(cfg.Definitions))
	for _, device := range cfg.Definitions {
		defined[device.ID] = true
	}

	for _, environment := range environments {
		for property, propertyConfig := range environment.Properties {
			for _, deviceID := range propertyConfig.Controllers {
				if !defined[deviceID] {
					return fmt.Errorf("environment %q property %q references undefined device %q",
						environment.ID, property, deviceID)
				}
				if len(effects[deviceID]) == 0 {
					return fmt.Errorf("device %q controls %q in environment %q but declares no effects",
						deviceID, property, environment.ID)
				}
			}
		}
	}

	return nil
}

// SetClock overrides the controller's time source, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// GetStatus returns a monitoring snapshot for the web server.
func (c *Controller) GetStatus() map[string]any {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	properties := make(map[string]any, len(c.lastStatus))
	for key, snapshot := range c.lastStatus {
		properties[key.environment+"/"+key.property] = map[string]any{
			"value":    snapshot.value,
			"decision": string(snapshot.decision),
			"target":   snapshot.target,
		}
	}

	history := make(map[string]any, len(c.history))
	for key, entry := range c.history {
		history[key.device+"/"+key.property] = map[string]any{
			"command": entry.command,
			"at":      entry.at,
		}
	}

	recent := make([]models.CommandRecord, len(c.audit))
	copy(recent, c.audit)

	return map[string]any{
		"dry_run":               c.dryRun,
		"debounce_seconds":      c.debounce.Seconds(),
		"state_refresh_seconds": c.stateRefresh.Seconds(),
		"properties":            properties,
		"command_history":       history,
		"recent_commands":       recent,
	}
}
