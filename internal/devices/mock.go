package devices

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/models"
	"enviroctl/internal/power"
)

// Mock is an in-memory actuator for dry runs and tests.
type Mock struct {
	id     string
	name   string
	logger *logrus.Logger

	mutex sync.Mutex
	on    bool
}

func NewMock(id, name string, logger *logrus.Logger) *Mock {
	if name == "" {
		name = id
	}
	return &Mock{id: id, name: name, logger: logger}
}

func (m *Mock) IsOn(_ context.Context) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.on, nil
}

func (m *Mock) TurnOn(ctx context.Context) (models.PowerCommandResult, error) {
	return power.EnsurePowerState(ctx, power.Request{
		DesiredOn: true,
		DeviceID:  m.id,
		Label:     m.name,
		ReadState: m.IsOn,
		Command:   func(context.Context) error { m.set(true); return nil },
	}, m.logger)
}

func (m *Mock) TurnOff(ctx context.Context) (models.PowerCommandResult, error) {
	return power.EnsurePowerState(ctx, power.Request{
		DesiredOn: false,
		DeviceID:  m.id,
		Label:     m.name,
		ReadState: m.IsOn,
		Command:   func(context.Context) error { m.set(false); return nil },
	}, m.logger)
}

func (m *Mock) Metadata() map[string]any {
	return map[string]any{
		"id":   m.id,
		"name": m.name,
		"kind": "mock",
	}
}

func (m *Mock) set(on bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.on = on
}
