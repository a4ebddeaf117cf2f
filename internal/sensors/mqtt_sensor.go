package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/models"
	mqttconn "enviroctl/internal/mqtt"
)

const defaultStaleness = 5 * time.Minute

// MQTTSensor caches the latest reading published on a topic. Payloads
// are either a JSON object of property names to numbers or a bare
// scalar, which is stored under the configured property name.
type MQTTSensor struct {
	id        string
	topic     string
	property  string
	staleness time.Duration
	reading   *models.Reading
	logger    *logrus.Logger
}

func NewMQTTSensor(cfg config.SensorConfig, conn *mqttconn.Connection, logger *logrus.Logger) (*MQTTSensor, error) {
	control := cfg.Control

	if control.Topic == "" {
		return nil, fmt.Errorf("mqtt sensor %q requires control.topic", cfg.ID)
	}

	staleness := defaultStaleness
	if control.StalenessSeconds > 0 {
		staleness = time.Duration(control.StalenessSeconds * float64(time.Second))
	}

	property := control.Property
	if property == "" {
		property = "value"
	}

	sensor := &MQTTSensor{
		id:        cfg.ID,
		topic:     control.Topic,
		property:  property,
		staleness: staleness,
		reading:   models.NewReading(),
		logger:    logger,
	}

	conn.Subscribe(sensor.topic, sensor.handleMessage)

	return sensor, nil
}

// Read returns the cached values, or (nil, nil) when nothing has been
// received yet or the cached reading is older than the staleness window.
func (s *MQTTSensor) Read(_ context.Context) (map[string]float64, error) {
	values, at := s.reading.Get()

	if at.IsZero() {
		return nil, nil
	}

	if time.Since(at) > s.staleness {
		s.log().Debugf("Reading on %s is older than %s, treating as missing", s.topic, s.staleness)
		return nil, nil
	}

	return values, nil
}

func (s *MQTTSensor) Metadata() map[string]any {
	return map[string]any{
		"id":        s.id,
		"kind":      "mqtt",
		"topic":     s.topic,
		"staleness": s.staleness.String(),
	}
}

func (s *MQTTSensor) handleMessage(payload []byte) {
	values, err := s.parsePayload(payload)
	if err != nil {
		s.log().Warnf("Discarding payload on %s: %v", s.topic, err)
		return
	}

	if len(values) == 0 {
		return
	}

	s.reading.Update(values)
}

func (s *MQTTSensor) parsePayload(payload []byte) (map[string]float64, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("empty payload")
	}

	if scalar, err := strconv.ParseFloat(text, 64); err == nil {
		return map[string]float64{s.property: scalar}, nil
	}

	var object map[string]any
	if err := json.Unmarshal(payload, &object); err != nil {
		return nil, fmt.Errorf("payload is neither a number nor a JSON object: %w", err)
	}

	values := make(map[string]float64, len(object))
	for key, raw := range object {
		switch v := raw.(type) {
		case float64:
			values[key] = v
		case bool, nil:
			// Non-numeric companion fields are common on shared topics.
		default:
			s.log().Warnf("Non-numeric value for '%s' on %s: %v", key, s.topic, raw)
		}
	}

	return values, nil
}

func (s *MQTTSensor) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"component": "sensor",
		"entity":    s.id,
	})
}
