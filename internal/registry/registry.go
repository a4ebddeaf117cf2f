// Package registry builds the configured devices and sensors from a
// closed set of supported kinds.
package registry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/devices"
	mqttconn "enviroctl/internal/mqtt"
	"enviroctl/internal/safety"
	"enviroctl/internal/sensors"
)

type DeviceKind string

const (
	DeviceMock       DeviceKind = "mock"
	DeviceKasaStrip  DeviceKind = "kasa_strip"
	DeviceMQTTOutlet DeviceKind = "mqtt_outlet"
)

type SensorKind string

const (
	SensorMock SensorKind = "mock"
	SensorMQTT SensorKind = "mqtt"
)

// BuildDevices constructs every configured device. Safety settings are
// resolved here and attached to countdown-capable drivers; a device with
// safety configuration but no countdown surface is left unprotected with
// a warning. A device that cannot be reached at build time is logged and
// left out of the registry instead of aborting startup.
func BuildDevices(ctx context.Context, cfg config.DevicesConfig, conn *mqttconn.Connection, logger *logrus.Logger) (map[string]devices.Actuator, error) {
	registry := make(map[string]devices.Actuator, len(cfg.Definitions))

	for _, definition := range cfg.Definitions {
		if definition.ID == "" {
			return nil, fmt.Errorf("device definition with empty id")
		}
		if _, exists := registry[definition.ID]; exists {
			return nil, fmt.Errorf("duplicate device id %q", definition.ID)
		}

		settings, err := safety.Resolve(definition.Safety, cfg.Defaults.Safety, definition.Control.OutletName)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", definition.ID, err)
		}

		device, countdown, err := buildDevice(ctx, definition, conn, logger)
		if err != nil {
			return nil, err
		}
		if device == nil {
			continue
		}

		if settings != nil {
			if countdown != nil {
				guard := safety.NewGuard(countdown, *settings, definition.ID, logger)
				countdownOwner, ok := device.(interface{ SetGuard(*safety.Guard) })
				if !ok {
					return nil, fmt.Errorf("device %q: countdown surface without guard attachment", definition.ID)
				}
				countdownOwner.SetGuard(guard)
			} else {
				logger.WithFields(logrus.Fields{
					"component": "device",
					"entity":    definition.ID,
				}).Warn("Safety configuration present but the device has no countdown timer; outlet is unprotected")
			}
		}

		registry[definition.ID] = device
	}

	return registry, nil
}

func buildDevice(ctx context.Context, definition config.DeviceConfig, conn *mqttconn.Connection, logger *logrus.Logger) (devices.Actuator, safety.CountdownProgrammer, error) {
	switch DeviceKind(definition.Kind) {
	case DeviceMock:
		return devices.NewMock(definition.ID, definition.Control.Name, logger), nil, nil

	case DeviceKasaStrip:
		strip, err := devices.NewKasaStrip(definition, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := strip.Initialize(ctx); err != nil {
			// An offline device at boot is transient; dispatch reports
			// the missing registry entry per tick and the next restart
			// picks the device up again.
			logger.WithFields(logrus.Fields{
				"component": "device",
				"entity":    definition.ID,
			}).Errorf("Device is unreachable, continuing without it: %v", err)
			return nil, nil, nil
		}
		return strip, strip, nil

	case DeviceMQTTOutlet:
		if conn == nil {
			return nil, nil, fmt.Errorf("device %q needs MQTT but no broker is configured", definition.ID)
		}
		outlet, err := devices.NewMQTTOutlet(definition, conn, logger)
		if err != nil {
			return nil, nil, err
		}
		return outlet, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown device kind %q for %q", definition.Kind, definition.ID)
	}
}

// BuildSensors constructs every configured sensor.
func BuildSensors(cfg []config.SensorConfig, conn *mqttconn.Connection, logger *logrus.Logger) (map[string]sensors.Sensor, error) {
	registry := make(map[string]sensors.Sensor, len(cfg))

	for _, definition := range cfg {
		if definition.ID == "" {
			return nil, fmt.Errorf("sensor definition with empty id")
		}
		if _, exists := registry[definition.ID]; exists {
			return nil, fmt.Errorf("duplicate sensor id %q", definition.ID)
		}

		switch SensorKind(definition.Kind) {
		case SensorMock:
			registry[definition.ID] = sensors.NewMock(definition)

		case SensorMQTT:
			if conn == nil {
				return nil, fmt.Errorf("sensor %q needs MQTT but no broker is configured", definition.ID)
			}
			sensor, err := sensors.NewMQTTSensor(definition, conn, logger)
			if err != nil {
				return nil, err
			}
			registry[definition.ID] = sensor

		default:
			return nil, fmt.Errorf("unknown sensor kind %q for %q", definition.Kind, definition.ID)
		}
	}

	return registry, nil
}
