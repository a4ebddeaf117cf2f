package registry

import (
	"fmt"

	"enviroctl/internal/config"
	"enviroctl/internal/safety"
)

// Validate checks device and sensor definitions without touching any
// hardware or broker, for the validate subcommand.
func Validate(cfg *config.Config) error {
	seenDevices := make(map[string]bool, len(cfg.Devices.Definitions))

	for _, definition := range cfg.Devices.Definitions {
		if definition.ID == "" {
			return fmt.Errorf("device definition with empty id")
		}
		if seenDevices[definition.ID] {
			return fmt.Errorf("duplicate device id %q", definition.ID)
		}
		seenDevices[definition.ID] = true

		switch DeviceKind(definition.Kind) {
		case DeviceMock, DeviceKasaStrip, DeviceMQTTOutlet:
		default:
			return fmt.Errorf("unknown device kind %q for %q", definition.Kind, definition.ID)
		}

		if _, err := safety.Resolve(definition.Safety, cfg.Devices.Defaults.Safety, definition.Control.OutletName); err != nil {
			return fmt.Errorf("device %q: %w", definition.ID, err)
		}
	}

	seenSensors := make(map[string]bool, len(cfg.Sensors))

	for _, definition := range cfg.Sensors {
		if definition.ID == "" {
			return fmt.Errorf("sensor definition with empty id")
		}
		if seenSensors[definition.ID] {
			return fmt.Errorf("duplicate sensor id %q", definition.ID)
		}
		seenSensors[definition.ID] = true

		switch SensorKind(definition.Kind) {
		case SensorMock, SensorMQTT:
		default:
			return fmt.Errorf("unknown sensor kind %q for %q", definition.Kind, definition.ID)
		}
	}

	return nil
}
