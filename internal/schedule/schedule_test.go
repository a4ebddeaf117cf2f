package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"enviroctl/internal/config"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.Local)
}

func TestParseWindow_Invalid(t *testing.T) {
	for _, spec := range []string{"", "08:00", "8am-9pm", "25:00-26:00", "08:61-09:00", "08:00-09:00-10:00"} {
		_, err := ParseWindow(spec)
		assert.Error(t, err, "spec %q should not parse", spec)
	}
}

func TestWindow_InclusiveBoundaries(t *testing.T) {
	window, err := ParseWindow("08:00-20:00")
	assert.NoError(t, err)

	assert.False(t, window.Contains(at(7, 59)))
	assert.True(t, window.Contains(at(8, 0)))
	assert.True(t, window.Contains(at(14, 30)))
	assert.True(t, window.Contains(at(20, 0)))
	assert.False(t, window.Contains(at(20, 1)))
}

func TestWindow_OvernightWraparound(t *testing.T) {
	window, err := ParseWindow("22:00-06:00")
	assert.NoError(t, err)

	assert.False(t, window.Contains(at(21, 59)))
	assert.True(t, window.Contains(at(22, 0)))
	assert.True(t, window.Contains(at(23, 30)))
	assert.True(t, window.Contains(at(2, 0)))
	assert.True(t, window.Contains(at(6, 0)))
	assert.False(t, window.Contains(at(6, 1)))
}

func TestParseTarget_Variants(t *testing.T) {
	state, err := ParseTarget("  ON ")
	assert.NoError(t, err)
	assert.Equal(t, "on", state.State)
	assert.True(t, state.IsState())

	// YAML reads bare on/off as booleans.
	fromBool, err := ParseTarget(true)
	assert.NoError(t, err)
	assert.Equal(t, "on", fromBool.State)

	ranged, err := ParseTarget(map[string]any{"min": 20, "max": 25.5})
	assert.NoError(t, err)
	assert.False(t, ranged.IsState())
	assert.Equal(t, 20.0, *ranged.Min)
	assert.Equal(t, 25.5, *ranged.Max)

	minOnly, err := ParseTarget(map[string]any{"min": 18})
	assert.NoError(t, err)
	assert.Nil(t, minOnly.Max)

	_, err = ParseTarget(map[string]any{"min": "cold"})
	assert.Error(t, err)

	_, err = ParseTarget(map[string]any{"mid": 22})
	assert.Error(t, err)

	_, err = ParseTarget(42)
	assert.Error(t, err)
}

func testResolver(t *testing.T) *Resolver {
	resolver, err := NewResolver([]config.ScheduleConfig{
		{
			ID:        "day",
			TimeRange: "08:00-20:00",
			Targets:   map[string]any{"temperature": map[string]any{"min": 22, "max": 27}},
		},
		{
			ID:        "night",
			TimeRange: "20:01-07:59",
			Targets:   map[string]any{"temperature": map[string]any{"min": 18, "max": 24}},
		},
		{
			ID:      "always",
			Targets: map[string]any{"humidity": map[string]any{"min": 55, "max": 70}},
		},
	})
	assert.NoError(t, err)
	return resolver
}

func TestResolver_FirstMatchInsideWindow(t *testing.T) {
	resolver := testResolver(t)
	resolver.SetClock(func() time.Time { return at(10, 0) })

	active := resolver.Active("temperature", []string{"day", "night"})
	if assert.NotNil(t, active) {
		assert.Equal(t, "day", active.ID)
	}
}

func TestResolver_FallsThroughToLaterSchedule(t *testing.T) {
	resolver := testResolver(t)
	resolver.SetClock(func() time.Time { return at(22, 0) })

	active := resolver.Active("temperature", []string{"day", "night"})
	if assert.NotNil(t, active) {
		assert.Equal(t, "night", active.ID)
	}
}

func TestResolver_SkipsUnknownAndMissingTarget(t *testing.T) {
	resolver := testResolver(t)
	resolver.SetClock(func() time.Time { return at(10, 0) })

	// "day" has no humidity target; "always" does.
	active := resolver.Active("humidity", []string{"ghost", "day", "always"})
	if assert.NotNil(t, active) {
		assert.Equal(t, "always", active.ID)
	}
}

func TestResolver_NoMatch(t *testing.T) {
	resolver := testResolver(t)
	resolver.SetClock(func() time.Time { return at(10, 0) })

	assert.Nil(t, resolver.Active("co2", []string{"day", "night", "always"}))
}

func TestNewResolver_RejectsMalformedWindow(t *testing.T) {
	_, err := NewResolver([]config.ScheduleConfig{
		{ID: "broken", TimeRange: "dawn-dusk", Targets: map[string]any{"power": "on"}},
	})
	assert.Error(t, err)
}

func TestNewResolver_RejectsMalformedTarget(t *testing.T) {
	_, err := NewResolver([]config.ScheduleConfig{
		{ID: "broken", Targets: map[string]any{"temperature": []any{20, 25}}},
	})
	assert.Error(t, err)
}
