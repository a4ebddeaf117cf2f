package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
environments:
  - id: tent
    properties:
      power:
        schedules: [lights]
        controllers: [lamp]
`)

	cfg, err := Load(path)

	assert.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Runtime.LoopIntervalSeconds)
	assert.Equal(t, 60.0, cfg.Runtime.HeartbeatIntervalSeconds)
	assert.Equal(t, 5.0, cfg.Runtime.DebounceSeconds)
	assert.Equal(t, 60.0, cfg.Runtime.StateRefreshSeconds)
	assert.Equal(t, ":8090", cfg.Web.Addr)
	assert.Equal(t, "enviroctl", cfg.MQTT.ClientID)
	assert.False(t, cfg.Runtime.DryRun)
}

func TestLoad_ParsesFullDocument(t *testing.T) {
	path := writeConfig(t, `
runtime:
  loop_interval_seconds: 2.5
  dry_run: true
  debounce_seconds: 10

mqtt:
  broker: "tcp://broker:1883"
  username: grower

environments:
  - id: tent
    properties:
      temperature:
        schedules: [day]
        sensors: [climate]
        controllers: [heat_mat]

schedules:
  - id: day
    time_range: "08:00-20:00"
    targets:
      temperature: { min: 22, max: 27 }
      power: "on"

devices:
  defaults:
    safety:
      target_state: "off"
      timeout_seconds: 300
      enforce: true
      outlets:
        mat_outlet:
          timeout_seconds: 120
  definitions:
    - id: heat_mat
      what: heater
      kind: kasa_strip
      control:
        host: 192.168.1.42
        outlet_name: mat_outlet
      effects:
        - property: temperature
          type: increase

sensors:
  - id: climate
    kind: mqtt
    control:
      topic: zigbee2mqtt/climate
      staleness_seconds: 120
`)

	cfg, err := Load(path)

	assert.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Runtime.LoopIntervalSeconds)
	assert.True(t, cfg.Runtime.DryRun)
	assert.Equal(t, 10.0, cfg.Runtime.DebounceSeconds)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)

	if assert.Len(t, cfg.Environments, 1) {
		property := cfg.Environments[0].Properties["temperature"]
		assert.Equal(t, []string{"day"}, property.Schedules)
		assert.Equal(t, []string{"climate"}, property.Sensors)
		assert.Equal(t, []string{"heat_mat"}, property.Controllers)
	}

	if assert.Len(t, cfg.Schedules, 1) {
		assert.Equal(t, "08:00-20:00", cfg.Schedules[0].TimeRange)
		assert.Contains(t, cfg.Schedules[0].Targets, "temperature")
	}

	if assert.Len(t, cfg.Devices.Definitions, 1) {
		device := cfg.Devices.Definitions[0]
		assert.Equal(t, "kasa_strip", device.Kind)
		assert.Equal(t, "mat_outlet", device.Control.OutletName)
		if assert.Len(t, device.Effects, 1) {
			assert.Equal(t, "increase", device.Effects[0].Type)
		}
	}

	if assert.NotNil(t, cfg.Devices.Defaults.Safety) {
		assert.Equal(t, 300, cfg.Devices.Defaults.Safety.TimeoutSeconds)
		override := cfg.Devices.Defaults.Safety.Outlets["mat_outlet"]
		if assert.NotNil(t, override.TimeoutSeconds) {
			assert.Equal(t, 120, *override.TimeoutSeconds)
		}
	}

	if assert.Len(t, cfg.Sensors, 1) {
		assert.Equal(t, 120.0, cfg.Sensors[0].Control.StalenessSeconds)
	}
}

func TestLoad_EnvironmentFallbackForBrokerCredentials(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env-broker:1883")
	t.Setenv("MQTT_USERNAME", "env-user")
	t.Setenv("MQTT_PASSWORD", "env-pass")

	path := writeConfig(t, "runtime:\n  dry_run: true\n")

	cfg, err := Load(path)

	assert.NoError(t, err)
	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "env-user", cfg.MQTT.Username)
	assert.Equal(t, "env-pass", cfg.MQTT.Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
