package devices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/models"
	mqttconn "enviroctl/internal/mqtt"
	"enviroctl/internal/power"
)

const mqttStateMaxAge = 5 * time.Minute

// MQTTOutlet drives a smart plug over MQTT: commands are published to a
// command topic and, when a state topic is configured, the reported
// state feeds the pre-read/verify steps of the power-command protocol.
type MQTTOutlet struct {
	id           string
	commandTopic string
	stateTopic   string
	conn         *mqttconn.Connection
	logger       *logrus.Logger

	mutex     sync.RWMutex
	on        bool
	updatedAt time.Time
}

func NewMQTTOutlet(cfg config.DeviceConfig, conn *mqttconn.Connection, logger *logrus.Logger) (*MQTTOutlet, error) {
	control := cfg.Control

	if control.CommandTopic == "" {
		return nil, fmt.Errorf("mqtt_outlet %q requires control.command_topic", cfg.ID)
	}

	outlet := &MQTTOutlet{
		id:           cfg.ID,
		commandTopic: control.CommandTopic,
		stateTopic:   control.StateTopic,
		conn:         conn,
		logger:       logger,
	}

	if outlet.stateTopic != "" {
		conn.Subscribe(outlet.stateTopic, outlet.handleState)
	}

	return outlet, nil
}

// HasStateReader reports whether the outlet can participate in the
// pre-read/verify protocol.
func (o *MQTTOutlet) HasStateReader() bool {
	return o.stateTopic != ""
}

func (o *MQTTOutlet) IsOn(_ context.Context) (bool, error) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	if o.updatedAt.IsZero() {
		return false, fmt.Errorf("no state reported yet on %s", o.stateTopic)
	}

	if time.Since(o.updatedAt) > mqttStateMaxAge {
		return false, fmt.Errorf("reported state on %s is stale", o.stateTopic)
	}

	return o.on, nil
}

func (o *MQTTOutlet) TurnOn(ctx context.Context) (models.PowerCommandResult, error) {
	return o.applyState(ctx, true)
}

func (o *MQTTOutlet) TurnOff(ctx context.Context) (models.PowerCommandResult, error) {
	return o.applyState(ctx, false)
}

func (o *MQTTOutlet) applyState(ctx context.Context, on bool) (models.PowerCommandResult, error) {
	var reader power.StateReader
	if o.HasStateReader() {
		reader = o.IsOn
	}

	return power.EnsurePowerState(ctx, power.Request{
		DesiredOn: on,
		DeviceID:  o.id,
		Label:     o.commandTopic,
		ReadState: reader,
		Command: func(context.Context) error {
			return o.conn.Publish(o.commandTopic, strings.ToUpper(models.StateLabel(on)))
		},
	}, o.logger)
}

func (o *MQTTOutlet) Metadata() map[string]any {
	return map[string]any{
		"id":            o.id,
		"kind":          "mqtt_outlet",
		"command_topic": o.commandTopic,
		"state_topic":   o.stateTopic,
	}
}

func (o *MQTTOutlet) handleState(payload []byte) {
	state := strings.ToUpper(strings.TrimSpace(string(payload)))

	var on bool
	switch state {
	case "ON", "1", "TRUE":
		on = true
	case "OFF", "0", "FALSE":
		on = false
	default:
		o.logger.WithFields(logrus.Fields{
			"component": "device",
			"entity":    o.id,
		}).Warnf("Unrecognized state payload on %s: %q", o.stateTopic, state)
		return
	}

	o.mutex.Lock()
	o.on = on
	o.updatedAt = time.Now()
	o.mutex.Unlock()
}
