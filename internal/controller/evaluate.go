package controller

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/devices"
	"enviroctl/internal/models"
	"enviroctl/internal/schedule"
)

// Evaluate runs one decision pass over every environment property and
// issues device commands where the active schedule calls for them.
// Transient failures are logged and skipped; nothing here aborts the
// tick.
func (c *Controller) Evaluate(ctx context.Context, readings map[string]map[string]float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, environment := range c.environments {
		for property, propertyConfig := range environment.Properties {
			c.evaluateProperty(ctx, environment.ID, property, propertyConfig, readings)
		}
	}
}

func (c *Controller) evaluateProperty(ctx context.Context, environmentID, property string, propertyConfig config.PropertyConfig, readings map[string]map[string]float64) {
	log := c.log(environmentID)

	active := c.resolver.Active(property, propertyConfig.Schedules)
	if active == nil {
		log.Infof("No active schedule found for property '%s'", property)
		return
	}

	target := active.Targets[property]

	if target.IsState() {
		c.applyStateTarget(ctx, environmentID, property, target.State, propertyConfig.Controllers)
		return
	}

	value, ok := c.aggregate(environmentID, property, propertyConfig.Sensors, readings)
	if !ok {
		c.warnMissingReadings(environmentID, property)
		return
	}

	delete(c.lastMissing, propertyKey{environment: environmentID, property: property})

	decision := decide(value, target)
	c.logStatus(environmentID, property, value, decision, target)

	for _, deviceID := range propertyConfig.Controllers {
		effect, ok := c.matchEffect(deviceID, property)
		if !ok {
			// Permissive: an effect list without an entry for this
			// property is a no-op for the device.
			continue
		}

		action := effect.Policy[decision]
		switch action {
		case "on":
			c.issueCommand(ctx, environmentID, property, deviceID, true, fmt.Sprintf("value=%.2f, target=%s", value, target))
		case "off":
			c.issueCommand(ctx, environmentID, property, deviceID, false, fmt.Sprintf("value=%.2f, target=%s", value, target))
		default:
			log.Debugf("Policy for '%s' maps %s to %q; no command", deviceID, decision, action)
		}
	}
}

// applyStateTarget handles literal on/off schedule targets by requesting
// that state from every controlling device with a matching effect.
func (c *Controller) applyStateTarget(ctx context.Context, environmentID, property, state string, controllers []string) {
	log := c.log(environmentID)

	var desiredOn bool
	switch state {
	case "on":
		desiredOn = true
	case "off":
		desiredOn = false
	default:
		log.Warnf("Unsupported target '%s' for property '%s'", state, property)
		return
	}

	for _, deviceID := range controllers {
		if _, ok := c.matchEffect(deviceID, property); !ok {
			continue
		}

		c.issueCommand(ctx, environmentID, property, deviceID, desiredOn, fmt.Sprintf("target state=%s", state))
	}
}

// aggregate returns the arithmetic mean of the property across the
// configured sensors. Sensors without a reading this tick are skipped.
func (c *Controller) aggregate(environmentID, property string, sensorIDs []string, readings map[string]map[string]float64) (float64, bool) {
	var sum float64
	var count int

	for _, sensorID := range sensorIDs {
		reading, ok := readings[sensorID]
		if !ok {
			continue
		}

		value, ok := reading[property]
		if !ok {
			continue
		}

		sum += value
		count++
	}

	if count == 0 {
		return 0, false
	}

	return sum / float64(count), true
}

func decide(value float64, target schedule.Target) models.Decision {
	if target.Min != nil && value < *target.Min {
		return models.DecisionIncrease
	}
	if target.Max != nil && value > *target.Max {
		return models.DecisionDecrease
	}
	return models.DecisionStable
}

// matchEffect returns the first effect declared for the property, in
// declaration order.
func (c *Controller) matchEffect(deviceID, property string) (Effect, bool) {
	for _, effect := range c.effects[deviceID] {
		if effect.Property == property {
			return effect, true
		}
	}
	return Effect{}, false
}

// warnMissingReadings logs the no-data condition at most once per
// state-refresh window per (environment, property). The marker is reset
// whenever a reading arrives, so a fresh outage logs immediately.
func (c *Controller) warnMissingReadings(environmentID, property string) {
	key := propertyKey{environment: environmentID, property: property}
	now := c.now()

	if last, ok := c.lastMissing[key]; ok && now.Sub(last) < c.stateRefresh {
		return
	}

	c.lastMissing[key] = now
	c.log(environmentID).Warnf("No readings available for property '%s'", property)
}

// logStatus emits the per-property telemetry line, deduplicated against
// the last logged snapshot to keep an audit trail of transitions without
// per-tick spam.
func (c *Controller) logStatus(environmentID, property string, value float64, decision models.Decision, target schedule.Target) {
	key := propertyKey{environment: environmentID, property: property}
	snapshot := statusSnapshot{
		value:    math.Round(value*100) / 100,
		decision: decision,
		target:   target.String(),
	}

	if previous, ok := c.lastStatus[key]; ok && previous == snapshot {
		return
	}

	c.lastStatus[key] = snapshot
	c.log(environmentID).Infof("%s is %.2f; target %s -> %s", property, snapshot.value, snapshot.target, decision)
}

// issueCommand applies debounce and state-refresh suppression, then
// drives the device through the power-command protocol. History is only
// updated when a command was truly sent, so failures retry next tick.
func (c *Controller) issueCommand(ctx context.Context, environmentID, property, deviceID string, desiredOn bool, detail string) {
	log := c.log(environmentID)
	command := models.CommandName(desiredOn)
	key := historyKey{device: deviceID, property: property}
	now := c.now()

	if last, ok := c.history[key]; ok && last.command == command {
		age := now.Sub(last.at)
		if age < c.debounce {
			log.Debugf("Skipping %s for '%s' due to debounce window (%s)", command, deviceID, c.debounce)
			return
		}
		if age < c.stateRefresh {
			log.Debugf("Skipping %s for '%s': state asserted %s ago, refresh window is %s", command, deviceID, age.Round(time.Second), c.stateRefresh)
			return
		}
	}

	device, ok := c.devices[deviceID]
	if !ok || device == nil {
		log.Errorf("Device '%s' not found in registry; cannot send %s", deviceID, command)
		return
	}

	summary := fmt.Sprintf("%s %s for %s in %s (%s)", command, deviceID, property, environmentID, detail)

	if c.dryRun {
		log.Infof("[dry-run] Would %s", summary)
		c.history[key] = historyEntry{command: command, at: now}
		c.recordCommand(environmentID, property, deviceID, command, true, now)
		return
	}

	result, err := c.invoke(ctx, device, desiredOn)
	if err != nil {
		log.Errorf("Failed to execute %s on '%s': %v", command, deviceID, err)
		return
	}

	if !result.CommandSent {
		log.Debugf("Skipped %s for '%s': device already in requested state", command, deviceID)
		return
	}

	log.Info(summary)
	c.history[key] = historyEntry{command: command, at: now}
	c.recordCommand(environmentID, property, deviceID, command, false, now)
}

func (c *Controller) invoke(ctx context.Context, device devices.Actuator, desiredOn bool) (models.PowerCommandResult, error) {
	if desiredOn {
		return device.TurnOn(ctx)
	}
	return device.TurnOff(ctx)
}

func (c *Controller) recordCommand(environmentID, property, deviceID, command string, dryRun bool, at time.Time) {
	record := models.CommandRecord{
		ID:          uuid.NewString(),
		Environment: environmentID,
		Device:      deviceID,
		Property:    property,
		Command:     command,
		DryRun:      dryRun,
		At:          at,
	}

	c.audit = append(c.audit, record)
	if len(c.audit) > auditTrailSize {
		c.audit = c.audit[len(c.audit)-auditTrailSize:]
	}
}

func (c *Controller) log(environmentID string) *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"component": "controller",
		"entity":    environmentID,
	})
}
