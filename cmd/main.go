package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"enviroctl/internal/config"
	"enviroctl/internal/controller"
	"enviroctl/internal/devices"
	"enviroctl/internal/mqtt"
	"enviroctl/internal/registry"
	"enviroctl/internal/safety"
	"enviroctl/internal/schedule"
	"enviroctl/internal/web"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runServe(args)
	case "validate":
		err = runValidate(args)
	case "safety-test":
		err = runSafetyTest(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`enviroctl - environmental control daemon

USAGE:
  enviroctl run [--config path] [--debug]
  enviroctl validate [--config path]
  enviroctl safety-test [--config path]`)
}

func newLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", "config.yaml", "path to the configuration file")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*debug)
	activity := controller.NewActivityHook()
	logger.AddHook(activity)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Infof("Starting enviroctl with %d environment(s), %d device(s), %d sensor(s)",
		len(cfg.Environments), len(cfg.Devices.Definitions), len(cfg.Sensors))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := schedule.NewResolver(cfg.Schedules)
	if err != nil {
		logger.Fatalf("Invalid schedule configuration: %v", err)
	}

	var conn *mqtt.Connection
	if cfg.MQTT.Broker != "" {
		conn, err = mqtt.NewConnection(cfg.MQTT, logger)
		if err != nil {
			logger.Fatalf("Failed to create MQTT client: %v", err)
		}
	}

	deviceRegistry, err := registry.BuildDevices(ctx, cfg.Devices, conn, logger)
	if err != nil {
		logger.Fatalf("Failed to build devices: %v", err)
	}

	sensorRegistry, err := registry.BuildSensors(cfg.Sensors, conn, logger)
	if err != nil {
		logger.Fatalf("Failed to build sensors: %v", err)
	}

	ctrl, err := controller.New(cfg, resolver, deviceRegistry, logger)
	if err != nil {
		logger.Fatalf("Invalid controller configuration: %v", err)
	}

	if conn != nil {
		if err := conn.Connect(); err != nil {
			logger.Fatalf("Failed to connect to MQTT: %v", err)
		}
		defer conn.Disconnect()
	}

	deviceMetadata := make(map[string]any, len(deviceRegistry))
	for id, device := range deviceRegistry {
		deviceMetadata[id] = device.Metadata()
	}

	sensorMetadata := make(map[string]any, len(sensorRegistry))
	for id, sensor := range sensorRegistry {
		sensorMetadata[id] = sensor.Metadata()
	}

	loop := controller.NewLoop(cfg.Runtime, ctrl, sensorRegistry, activity, logger)
	server := web.NewServer(cfg.Web.Addr, ctrl, deviceMetadata, sensorMetadata, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			logger.Errorf("Status server error: %v", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")
	cancel()

	wg.Wait()
	logger.Info("Shutdown complete")
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfgPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(false)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	resolver, err := schedule.NewResolver(cfg.Schedules)
	if err != nil {
		return err
	}

	if err := registry.Validate(cfg); err != nil {
		return err
	}

	if _, err := controller.New(cfg, resolver, nil, logger); err != nil {
		return err
	}

	fmt.Println("Configuration OK")
	return nil
}

// safetyTestOverride forces a short OFF countdown so an operator can
// watch the strip's own scheduler cut power after the daemon exits.
var safetyTestOverride = safety.Settings{TargetOn: false, TimeoutSeconds: 120, Enforce: true}

func runSafetyTest(args []string) error {
	fs := flag.NewFlagSet("safety-test", flag.ContinueOnError)
	cfgPath := fs.String("config", "config.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(false)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tested := 0

	for _, definition := range cfg.Devices.Definitions {
		if registry.DeviceKind(definition.Kind) != registry.DeviceKasaStrip {
			continue
		}

		settings, err := safety.Resolve(definition.Safety, cfg.Devices.Defaults.Safety, definition.Control.OutletName)
		if err != nil {
			return err
		}
		if settings == nil {
			continue
		}

		strip, err := devices.NewKasaStrip(definition, logger)
		if err != nil {
			logger.Errorf("Unable to build device '%s': %v", definition.ID, err)
			continue
		}

		if err := strip.Initialize(ctx); err != nil {
			logger.Errorf("Unable to reach device '%s': %v", definition.ID, err)
			continue
		}

		strip.SetGuard(safety.NewGuard(strip, safetyTestOverride, definition.ID, logger))

		if _, err := strip.TurnOn(ctx); err != nil {
			logger.Errorf("Unable to program safety timer for device '%s': %v", definition.ID, err)
			continue
		}

		logger.Infof("Activated outlet '%s' on '%s' with a %ds OFF safety timer",
			definition.Control.OutletName, definition.ID, safetyTestOverride.TimeoutSeconds)
		tested++
	}

	if tested == 0 {
		logger.Warn("No KASA strip devices with safety settings were found in the config")
	}

	return nil
}
