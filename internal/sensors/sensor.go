// Package sensors contains the sensor contract and the concrete readers
// the registry can build.
package sensors

import "context"

// Sensor produces the latest property readings for a poll cycle.
// A (nil, nil) return means no data is available this cycle; the poller
// skips the sensor without treating it as a failure.
type Sensor interface {
	Read(ctx context.Context) (map[string]float64, error)
	Metadata() map[string]any
}
