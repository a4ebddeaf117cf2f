// Package schedule resolves which time-windowed target set is active for
// a property at a given moment.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"enviroctl/internal/config"
)

// Window is a HH:MM-HH:MM time-of-day range. Boundaries are inclusive and
// a start later than the end wraps past midnight.
type Window struct {
	start int // minutes since midnight
	end   int
}

func ParseWindow(spec string) (*Window, error) {
	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid time range %q (want HH:MM-HH:MM)", spec)
	}

	start, err := parseMinutes(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid time range %q: %w", spec, err)
	}

	end, err := parseMinutes(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid time range %q: %w", spec, err)
	}

	return &Window{start: start, end: end}, nil
}

func parseMinutes(hhmm string) (int, error) {
	fields := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}

	hours, err := strconv.Atoi(fields[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}

	minutes, err := strconv.Atoi(fields[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}

	return hours*60 + minutes, nil
}

func (w *Window) Contains(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()

	if w.start <= w.end {
		return w.start <= now && now <= w.end
	}

	// Over-midnight window.
	return now >= w.start || now <= w.end
}

// Target is one schedule entry for a property: either a literal device
// state or a numeric range with independently optional bounds.
type Target struct {
	State string
	Min   *float64
	Max   *float64
}

func (t Target) IsState() bool {
	return t.State != ""
}

func (t Target) String() string {
	if t.IsState() {
		return fmt.Sprintf("state=%s", t.State)
	}
	return fmt.Sprintf("min=%s max=%s", formatBound(t.Min), formatBound(t.Max))
}

func formatBound(v *float64) string {
	if v == nil {
		return "none"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ParseTarget normalizes a raw config target. Literal states arrive as
// strings (or booleans, since YAML reads bare on/off that way); ranges
// arrive as {min, max} mappings.
func ParseTarget(raw any) (Target, error) {
	switch v := raw.(type) {
	case string:
		return Target{State: strings.ToLower(strings.TrimSpace(v))}, nil
	case bool:
		if v {
			return Target{State: "on"}, nil
		}
		return Target{State: "off"}, nil
	case map[string]any:
		var target Target
		for key, bound := range v {
			value, err := toFloat(bound)
			if err != nil {
				return Target{}, fmt.Errorf("target bound %q: %w", key, err)
			}
			switch key {
			case "min":
				target.Min = &value
			case "max":
				target.Max = &value
			default:
				return Target{}, fmt.Errorf("unknown target key %q", key)
			}
		}
		return target, nil
	default:
		return Target{}, fmt.Errorf("target must be a state string or a {min, max} mapping, got %T", raw)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// Schedule is a parsed schedule definition.
type Schedule struct {
	ID      string
	Window  *Window // nil means always active
	Targets map[string]Target
}

// Resolver picks the active schedule for a property using first-match
// order over the property's configured schedule IDs.
type Resolver struct {
	schedules map[string]*Schedule
	now       func() time.Time
}

func NewResolver(configs []config.ScheduleConfig) (*Resolver, error) {
	resolver := &Resolver{
		schedules: make(map[string]*Schedule, len(configs)),
		now:       time.Now,
	}

	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("schedule with empty id")
		}

		parsed := &Schedule{
			ID:      cfg.ID,
			Targets: make(map[string]Target, len(cfg.Targets)),
		}

		if cfg.TimeRange != "" {
			window, err := ParseWindow(cfg.TimeRange)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: %w", cfg.ID, err)
			}
			parsed.Window = window
		}

		for property, raw := range cfg.Targets {
			target, err := ParseTarget(raw)
			if err != nil {
				return nil, fmt.Errorf("schedule %q target %q: %w", cfg.ID, property, err)
			}
			parsed.Targets[property] = target
		}

		resolver.schedules[cfg.ID] = parsed
	}

	return resolver, nil
}

// Active returns the first schedule in scheduleIDs that is known, inside
// its time window, and declares a target for property. Nil when none
// match.
func (r *Resolver) Active(property string, scheduleIDs []string) *Schedule {
	now := r.now()

	for _, id := range scheduleIDs {
		schedule, ok := r.schedules[id]
		if !ok {
			continue
		}

		if schedule.Window != nil && !schedule.Window.Contains(now) {
			continue
		}

		if _, ok := schedule.Targets[property]; !ok {
			continue
		}

		return schedule
	}

	return nil
}

// SetClock overrides the resolver's time source, for tests.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}
