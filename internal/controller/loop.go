package controller

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/sensors"
)

// ActivityHook tracks when the logger last emitted anything, so the loop
// can send a heartbeat only after a quiet period.
type ActivityHook struct {
	mutex sync.Mutex
	last  time.Time
}

func NewActivityHook() *ActivityHook {
	return &ActivityHook{last: time.Now()}
}

func (h *ActivityHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ActivityHook) Fire(_ *logrus.Entry) error {
	h.mutex.Lock()
	h.last = time.Now()
	h.mutex.Unlock()
	return nil
}

func (h *ActivityHook) Last() time.Time {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.last
}

// Loop drives the controller: poll sensors, evaluate, sleep, repeat.
// One evaluation pass runs to completion before the next poll; shutdown
// is cooperative between ticks.
type Loop struct {
	controller *Controller
	sensors    map[string]sensors.Sensor
	interval   time.Duration
	heartbeat  time.Duration
	activity   *ActivityHook
	logger     *logrus.Logger

	lastReadings map[string]map[string]float64
}

func NewLoop(cfg config.RuntimeConfig, controller *Controller, sensorRegistry map[string]sensors.Sensor, activity *ActivityHook, logger *logrus.Logger) *Loop {
	heartbeat := cfg.HeartbeatIntervalSeconds
	if heartbeat < 60 {
		heartbeat = 60
	}

	return &Loop{
		controller:   controller,
		sensors:      sensorRegistry,
		interval:     time.Duration(cfg.LoopIntervalSeconds * float64(time.Second)),
		heartbeat:    time.Duration(heartbeat * float64(time.Second)),
		activity:     activity,
		logger:       logger,
		lastReadings: make(map[string]map[string]float64),
	}
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.WithFields(logrus.Fields{
		"component": "system",
		"entity":    "global",
	}).Info("Control loop starting")

	for {
		l.tick(ctx)

		select {
		case <-ctx.Done():
			l.logger.WithFields(logrus.Fields{
				"component": "system",
				"entity":    "global",
			}).Info("Control loop stopping")
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	readings := l.pollSensors(ctx)
	l.controller.Evaluate(ctx, readings)

	if l.activity != nil && time.Since(l.activity.Last()) >= l.heartbeat {
		l.logger.WithFields(logrus.Fields{
			"component": "system",
			"entity":    "heartbeat",
		}).Info("Heartbeat: controller is running")
	}
}

// pollSensors collects readings from every sensor sequentially. Read
// failures are logged and skipped; changed readings are logged once.
func (l *Loop) pollSensors(ctx context.Context) map[string]map[string]float64 {
	readings := make(map[string]map[string]float64, len(l.sensors))

	for sensorID, sensor := range l.sensors {
		log := l.logger.WithFields(logrus.Fields{
			"component": "sensor",
			"entity":    sensorID,
		})

		result, err := sensor.Read(ctx)
		if err != nil {
			log.Errorf("Sensor read failure: %v", err)
			continue
		}

		if result == nil {
			continue
		}

		readings[sensorID] = result

		if !maps.Equal(result, l.lastReadings[sensorID]) {
			log.Infof("Sensor data: %v", result)
			l.lastReadings[sensorID] = result
		}
	}

	return readings
}
