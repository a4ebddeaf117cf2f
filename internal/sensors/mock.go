package sensors

import (
	"context"
	"sync"

	"enviroctl/internal/config"
)

// Mock produces deterministic readings for dry runs and tests.
type Mock struct {
	id string

	mutex    sync.RWMutex
	readings map[string]float64
}

func NewMock(cfg config.SensorConfig) *Mock {
	readings := map[string]float64{"temperature": 72.0, "humidity": 50.0}
	if len(cfg.Control.Readings) > 0 {
		readings = cfg.Control.Readings
	}

	return &Mock{id: cfg.ID, readings: readings}
}

func (m *Mock) Read(_ context.Context) (map[string]float64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]float64, len(m.readings))
	for k, v := range m.readings {
		out[k] = v
	}

	return out, nil
}

// SetReading overrides one property value, for tests.
func (m *Mock) SetReading(property string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readings[property] = value
}

func (m *Mock) Metadata() map[string]any {
	return map[string]any{
		"id":   m.id,
		"kind": "mock",
	}
}
