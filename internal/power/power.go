// Package power implements the idempotent power-command protocol shared
// by every actuator driver: pre-read, conditional command, post-verify.
package power

import (
	"context"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/models"
)

// StateReader returns the current on/off state of a device.
type StateReader func(ctx context.Context) (bool, error)

// Command performs the actual power transition on the hardware.
type Command func(ctx context.Context) error

// Request describes one apply-desired-state operation.
type Request struct {
	DesiredOn bool
	DeviceID  string
	Label     string

	// ReadState is nil when the device cannot report its power state,
	// which disables both the pre-read skip and the post-verify.
	ReadState StateReader
	Command   Command
}

// EnsurePowerState applies an on/off command, skipping the hardware call
// when the device already reports the desired state and verifying the
// outcome afterwards. Read failures degrade to "unknown state"; only an
// error from the command itself is returned to the caller.
func EnsurePowerState(ctx context.Context, req Request, logger *logrus.Logger) (models.PowerCommandResult, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "device",
		"entity":    req.DeviceID,
	})

	pre := readState(ctx, req.ReadState, log, req.Label, "before")
	if pre != nil && *pre == req.DesiredOn {
		log.Debugf("No-op for '%s': already %s", req.Label, models.StateLabel(req.DesiredOn))
		return models.PowerCommandResult{CommandSent: false, FinalState: pre}, nil
	}

	if err := req.Command(ctx); err != nil {
		return models.PowerCommandResult{}, err
	}

	post := readState(ctx, req.ReadState, log, req.Label, "after")
	switch {
	case post == nil:
		log.Debugf("Command sent to '%s': %s", req.Label, models.StateLabel(req.DesiredOn))
	case *post == req.DesiredOn:
		log.Infof("'%s' switched %s", req.Label, models.StateLabel(req.DesiredOn))
	default:
		log.Errorf("'%s' did not reach state %s after command (device failed to respond)",
			req.Label, models.StateLabel(req.DesiredOn))
	}

	return models.PowerCommandResult{CommandSent: true, FinalState: post}, nil
}

func readState(ctx context.Context, read StateReader, log *logrus.Entry, label, phase string) *bool {
	if read == nil {
		return nil
	}

	state, err := read(ctx)
	if err != nil {
		log.Warnf("Unable to read power state for '%s' %s command: %v", label, phase, err)
		return nil
	}

	return &state
}
