// Package devices contains the actuator contract and the concrete
// drivers the registry can build.
package devices

import (
	"context"

	"enviroctl/internal/models"
)

// Actuator is the capability set the dispatch layer requires from every
// controllable device.
type Actuator interface {
	TurnOn(ctx context.Context) (models.PowerCommandResult, error)
	TurnOff(ctx context.Context) (models.PowerCommandResult, error)
	Metadata() map[string]any
}

// StateReader is implemented by devices that can report their power
// state. Absence disables the pre-read and post-verify steps of the
// power-command protocol.
type StateReader interface {
	IsOn(ctx context.Context) (bool, error)
}
