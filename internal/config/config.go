package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Runtime      RuntimeConfig       `mapstructure:"runtime"`
	Web          WebConfig           `mapstructure:"web"`
	MQTT         MQTTConfig          `mapstructure:"mqtt"`
	Environments []EnvironmentConfig `mapstructure:"environments"`
	Schedules    []ScheduleConfig    `mapstructure:"schedules"`
	Devices      DevicesConfig       `mapstructure:"devices"`
	Sensors      []SensorConfig      `mapstructure:"sensors"`
}

type RuntimeConfig struct {
	LoopIntervalSeconds      float64 `mapstructure:"loop_interval_seconds"`
	HeartbeatIntervalSeconds float64 `mapstructure:"heartbeat_interval_seconds"`
	DryRun                   bool    `mapstructure:"dry_run"`
	DebounceSeconds          float64 `mapstructure:"debounce_seconds"`
	StateRefreshSeconds      float64 `mapstructure:"state_refresh_seconds"`
}

type WebConfig struct {
	Addr string `mapstructure:"addr"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

type EnvironmentConfig struct {
	ID         string                    `mapstructure:"id"`
	Properties map[string]PropertyConfig `mapstructure:"properties"`
}

type PropertyConfig struct {
	Schedules   []string `mapstructure:"schedules"`
	Sensors     []string `mapstructure:"sensors"`
	Controllers []string `mapstructure:"controllers"`
}

// ScheduleConfig carries targets as raw values: a target is either a
// literal state string or a {min, max} mapping, and YAML additionally
// parses bare on/off as booleans. The schedule package normalizes them.
type ScheduleConfig struct {
	ID        string         `mapstructure:"id"`
	TimeRange string         `mapstructure:"time_range"`
	Targets   map[string]any `mapstructure:"targets"`
}

type DevicesConfig struct {
	Defaults    DeviceDefaults `mapstructure:"defaults"`
	Definitions []DeviceConfig `mapstructure:"definitions"`
}

// DeviceDefaults supplies fallback effects keyed by device role ("what")
// and the shared safety block applied to outlets without their own.
type DeviceDefaults struct {
	Effects map[string][]EffectConfig `mapstructure:"effects"`
	Safety  *SafetyConfig             `mapstructure:"safety"`
}

type DeviceConfig struct {
	ID      string         `mapstructure:"id"`
	What    string         `mapstructure:"what"`
	Kind    string         `mapstructure:"kind"`
	Control ControlConfig  `mapstructure:"control"`
	Effects []EffectConfig `mapstructure:"effects"`
	Safety  *SafetyConfig  `mapstructure:"safety"`
}

// ControlConfig is the union of per-driver connection settings; each
// device kind validates the fields it needs at construction.
type ControlConfig struct {
	Name         string `mapstructure:"name"`
	OutletName   string `mapstructure:"outlet_name"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	CommandTopic string `mapstructure:"command_topic"`
	StateTopic   string `mapstructure:"state_topic"`
}

// EffectConfig declares a device's influence on one property, either via
// the legacy type (increase/decrease) or an explicit decision policy.
// Policy values are raw because YAML parses bare on/off as booleans.
type EffectConfig struct {
	Property string         `mapstructure:"property"`
	Type     string         `mapstructure:"type"`
	Policy   map[string]any `mapstructure:"policy"`
}

type SafetyConfig struct {
	TargetState    string                    `mapstructure:"target_state"`
	TimeoutSeconds int                       `mapstructure:"timeout_seconds"`
	Enforce        bool                      `mapstructure:"enforce"`
	Outlets        map[string]SafetyOverride `mapstructure:"outlets"`
}

// SafetyOverride is a partial safety block merged over the shared one for
// a specific outlet.
type SafetyOverride struct {
	TargetState    *string `mapstructure:"target_state"`
	TimeoutSeconds *int    `mapstructure:"timeout_seconds"`
	Enforce        *bool   `mapstructure:"enforce"`
}

type SensorConfig struct {
	ID      string              `mapstructure:"id"`
	Kind    string              `mapstructure:"kind"`
	Control SensorControlConfig `mapstructure:"control"`
}

type SensorControlConfig struct {
	Topic            string             `mapstructure:"topic"`
	Property         string             `mapstructure:"property"`
	StalenessSeconds float64            `mapstructure:"staleness_seconds"`
	Readings         map[string]float64 `mapstructure:"readings"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("runtime.loop_interval_seconds", 1.0)
	v.SetDefault("runtime.heartbeat_interval_seconds", 60.0)
	v.SetDefault("runtime.dry_run", false)
	v.SetDefault("runtime.debounce_seconds", 5.0)
	v.SetDefault("runtime.state_refresh_seconds", 60.0)
	v.SetDefault("web.addr", ":8090")
	v.SetDefault("mqtt.client_id", "enviroctl")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.MQTT.Broker == "" {
		config.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if config.MQTT.Username == "" {
		config.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if config.MQTT.Password == "" {
		config.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	return &config, nil
}
