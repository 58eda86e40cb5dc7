package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-satellite/pkg/control"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/healthserver"
	"github.com/core-tools/hsu-satellite/pkg/logging"
	"github.com/core-tools/hsu-satellite/pkg/monitoring"
	"github.com/core-tools/hsu-satellite/pkg/processfile"

	"github.com/dustin/go-humanize"
)

type RunOptions struct {
	// RunDuration stops the satellite after the given number of seconds, 0 runs until signalled
	RunDuration int
}

// Run drives the full satellite lifecycle until a signal or the run duration ends
func Run(options RunOptions, config *SatelliteConfig, coreLogger coreLogging.Logger, logger logging.Logger) error {
	logger.Infof("Satellite runner starting...")

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	ctx := context.Background()
	if options.RunDuration > 0 {
		duration := time.Duration(options.RunDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	orchestrator := New(Options{
		Directories: config.Directories.List(),
		Unit:        config.UnitOptions(),
	}, BuildRegistrations(config, logger), logger)

	if err := orchestrator.Initialize(ctx); err != nil {
		logger.Errorf("Failed to initialize orchestrator: %v", err)
		return err
	}

	orchestrator.AttachEndpoint(healthserver.New(healthserver.Options{
		Host:         config.HealthEndpoint.Host,
		Port:         config.HealthEndpoint.Port,
		ServiceName:  config.Orchestrator.ServiceName,
		ReadTimeout:  config.HealthEndpoint.ReadTimeout,
		WriteTimeout: config.HealthEndpoint.WriteTimeout,
	}, orchestrator, logging.WithPrefix(logger, "endpoint: health , ")))

	if config.Control.IsEnabled() {
		controlServer, err := control.NewServer(control.ServerOptions{
			Port: config.Control.Port,
		}, orchestrator, coreLogger, logging.WithPrefix(logger, "endpoint: control , "))
		if err != nil {
			return err
		}
		orchestrator.AttachEndpoint(controlServer)
	}

	if config.Monitoring.Enabled {
		orchestrator.AttachEndpoint(monitoring.NewHealthMonitor(config.Monitoring, orchestrator,
			logging.WithPrefix(logger, "endpoint: monitor , ")))
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	if err := orchestrator.StartAll(ctx); err != nil {
		if errors.IsNetworkError(err) {
			logger.Errorf("Failed to start endpoints: %v", err)
			shutdown(orchestrator, config.Orchestrator.ForceShutdownTimeout, logger)
			return err
		}
		// a partially started satellite keeps running and reports 503 on /ready
		logger.Warnf("Some units failed to start: %v", err)
	}

	if config.RuntimeFiles.IsEnabled() {
		runtimeFiles := processfile.NewProcessFileManager(config.RuntimeFiles.ProcessFileConfig, logger)
		writeRuntimeFiles(runtimeFiles, config, logger)
		defer runtimeFiles.Remove()
	}

	health := orchestrator.Health()
	logger.Infof("Satellite is operational, status: %s, ready: %d/%d", health.Status, health.ComponentsReady, health.TotalComponents)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Satellite runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Satellite runner timed out")
	}

	return shutdown(orchestrator, config.Orchestrator.ForceShutdownTimeout, logger)
}

func shutdown(orchestrator *Orchestrator, timeout time.Duration, logger logging.Logger) error {
	if timeout <= 0 {
		timeout = DefaultForceShutdownTimeout
	}

	// Reset context to background to enable graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := orchestrator.Shutdown(ctx)
	if err != nil {
		logger.Errorf("Satellite shutdown finished with errors: %v", err)
	}

	health := orchestrator.Health()
	logger.Infof("Satellite runner stopped, status: %s, started %s", health.Status, humanize.Time(health.StartupTime))
	return err
}

// writeRuntimeFiles records the PID and control port; failures only cost CLI discovery
func writeRuntimeFiles(runtimeFiles *processfile.ProcessFileManager, config *SatelliteConfig, logger logging.Logger) {
	if err := runtimeFiles.WritePIDFile(os.Getpid()); err != nil {
		logger.Warnf("Failed to write PID file: %v", err)
	}
	if config.Control.IsEnabled() {
		if err := runtimeFiles.WritePortFile(config.Control.Port); err != nil {
			logger.Warnf("Failed to write control port file: %v", err)
		}
	}
}

// ValidateConfigFile validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}
