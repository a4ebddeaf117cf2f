package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"enviroctl/internal/config"
)

type fakeCountdown struct {
	calls     []string
	lastDelay int
	lastOn    bool
	clearErr  error
	addErr    error
}

func (f *fakeCountdown) ClearCountdown(context.Context) error {
	f.calls = append(f.calls, "clear")
	return f.clearErr
}

func (f *fakeCountdown) AddCountdown(_ context.Context, delaySeconds int, turnOn bool) error {
	f.calls = append(f.calls, "add")
	f.lastDelay = delaySeconds
	f.lastOn = turnOn
	return f.addErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestGuard_ArmsWhenCommandedAwayFromFallback(t *testing.T) {
	outlet := &fakeCountdown{}
	guard := NewGuard(outlet, Settings{TargetOn: false, TimeoutSeconds: 300, Enforce: true}, "dev1", testLogger())

	guard.Apply(context.Background(), true)

	assert.Equal(t, []string{"clear", "add"}, outlet.calls)
	assert.Equal(t, 300, outlet.lastDelay)
	assert.False(t, outlet.lastOn)
}

func TestGuard_ClearsOnlyWhenCommandingFallbackState(t *testing.T) {
	outlet := &fakeCountdown{}
	guard := NewGuard(outlet, Settings{TargetOn: false, TimeoutSeconds: 300, Enforce: true}, "dev1", testLogger())

	guard.Apply(context.Background(), false)

	assert.Equal(t, []string{"clear"}, outlet.calls)
}

func TestGuard_DisabledClearsExistingRule(t *testing.T) {
	outlet := &fakeCountdown{}
	guard := NewGuard(outlet, Settings{TargetOn: false, TimeoutSeconds: 300, Enforce: false}, "dev1", testLogger())

	guard.Apply(context.Background(), true)

	assert.Equal(t, []string{"clear"}, outlet.calls)
}

func TestGuard_MissingTimeoutDisables(t *testing.T) {
	outlet := &fakeCountdown{}
	guard := NewGuard(outlet, Settings{TargetOn: false, TimeoutSeconds: 0, Enforce: true}, "dev1", testLogger())

	guard.Apply(context.Background(), true)

	assert.Equal(t, []string{"clear"}, outlet.calls)
}

func TestGuard_ProgrammingErrorsAreSwallowed(t *testing.T) {
	outlet := &fakeCountdown{clearErr: errors.New("no countdown module"), addErr: errors.New("busy")}
	guard := NewGuard(outlet, Settings{TargetOn: false, TimeoutSeconds: 60, Enforce: true}, "dev1", testLogger())

	assert.NotPanics(t, func() {
		guard.Apply(context.Background(), true)
	})
	assert.Equal(t, []string{"clear", "add"}, outlet.calls)
}

func TestGuard_NilGuardIsNoOp(t *testing.T) {
	var guard *Guard

	assert.NotPanics(t, func() {
		guard.Apply(context.Background(), true)
	})
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func TestResolve_DeviceBlockWins(t *testing.T) {
	device := &config.SafetyConfig{TargetState: "on", TimeoutSeconds: 30, Enforce: true}
	shared := &config.SafetyConfig{TargetState: "off", TimeoutSeconds: 300, Enforce: true}

	settings, err := Resolve(device, shared, "outlet1")

	assert.NoError(t, err)
	assert.True(t, settings.TargetOn)
	assert.Equal(t, 30, settings.TimeoutSeconds)
}

func TestResolve_SharedOutletOverrideMerges(t *testing.T) {
	shared := &config.SafetyConfig{
		TargetState:    "off",
		TimeoutSeconds: 300,
		Enforce:        true,
		Outlets: map[string]config.SafetyOverride{
			"outlet1": {TimeoutSeconds: intPtr(120)},
		},
	}

	settings, err := Resolve(nil, shared, "outlet1")

	assert.NoError(t, err)
	assert.False(t, settings.TargetOn)
	assert.Equal(t, 120, settings.TimeoutSeconds)
	assert.True(t, settings.Enforce)
}

func TestResolve_OverrideCanFlipTargetAndEnforce(t *testing.T) {
	shared := &config.SafetyConfig{
		TargetState:    "off",
		TimeoutSeconds: 300,
		Enforce:        true,
		Outlets: map[string]config.SafetyOverride{
			"outlet1": {TargetState: strPtr("on"), Enforce: boolPtr(false)},
		},
	}

	settings, err := Resolve(nil, shared, "outlet1")

	assert.NoError(t, err)
	assert.True(t, settings.TargetOn)
	assert.False(t, settings.Enforce)
}

func TestResolve_SharedBlockDirect(t *testing.T) {
	shared := &config.SafetyConfig{TargetState: "off", TimeoutSeconds: 300, Enforce: true}

	settings, err := Resolve(nil, shared, "other_outlet")

	assert.NoError(t, err)
	assert.Equal(t, 300, settings.TimeoutSeconds)
}

func TestResolve_NoConfig(t *testing.T) {
	settings, err := Resolve(nil, nil, "outlet1")

	assert.NoError(t, err)
	assert.Nil(t, settings)
}

func TestResolve_MissingTargetStateDisables(t *testing.T) {
	shared := &config.SafetyConfig{TimeoutSeconds: 300, Enforce: true}

	settings, err := Resolve(nil, shared, "outlet1")

	assert.NoError(t, err)
	if assert.NotNil(t, settings) {
		assert.False(t, settings.Enforce)
		assert.Equal(t, 300, settings.TimeoutSeconds)
	}
}

func TestGuard_MissingTargetStateOnlyClears(t *testing.T) {
	shared := &config.SafetyConfig{TimeoutSeconds: 300, Enforce: true}
	settings, err := Resolve(nil, shared, "outlet1")
	assert.NoError(t, err)

	outlet := &fakeCountdown{}
	guard := NewGuard(outlet, *settings, "dev1", testLogger())

	guard.Apply(context.Background(), true)

	assert.Equal(t, []string{"clear"}, outlet.calls)
}

func TestResolve_InvalidTargetState(t *testing.T) {
	device := &config.SafetyConfig{TargetState: "standby", TimeoutSeconds: 30, Enforce: true}

	_, err := Resolve(device, nil, "outlet1")

	assert.Error(t, err)
}
