package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
	"github.com/core-tools/hsu-satellite/pkg/monitoring"
	"github.com/core-tools/hsu-satellite/pkg/processfile"
	"github.com/core-tools/hsu-satellite/pkg/subsystems"
	"github.com/core-tools/hsu-satellite/pkg/units"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServiceName          = "satellite-resilience-orchestrator"
	DefaultHealthHost           = "0.0.0.0"
	DefaultHealthPort           = 8080
	DefaultControlPort          = 50055
	DefaultForceShutdownTimeout = 30 * time.Second
	DefaultDataDir              = "data"
)

// SatelliteConfig represents the top-level configuration file structure
type SatelliteConfig struct {
	Orchestrator   OrchestratorConfig   `yaml:"orchestrator"`
	Logging        logging.ZapConfig    `yaml:"logging"`
	HealthEndpoint HealthEndpointConfig `yaml:"health_endpoint"`
	Control        ControlConfig        `yaml:"control"`
	Directories    DirectoriesConfig    `yaml:"directories"`
	Units          UnitsConfig          `yaml:"units"`

	Monitoring   monitoring.HealthMonitorConfig `yaml:"monitoring"`
	RuntimeFiles RuntimeFilesConfig             `yaml:"runtime_files"`
}

type OrchestratorConfig struct {
	ServiceName          string        `yaml:"service_name,omitempty"`
	CallTimeout          time.Duration `yaml:"call_timeout,omitempty"`
	HealthCheckTimeout   time.Duration `yaml:"health_check_timeout,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

type HealthEndpointConfig struct {
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

type ControlConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Port    int   `yaml:"port,omitempty"`
}

// RuntimeFilesConfig controls the PID and control port files of the server
type RuntimeFilesConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	processfile.ProcessFileConfig `yaml:",inline"`
}

type DirectoriesConfig struct {
	Camera  string `yaml:"camera,omitempty"`
	Sensors string `yaml:"sensors,omitempty"`
	Staging string `yaml:"staging,omitempty"`
	Output  string `yaml:"output,omitempty"`
}

// List returns every directory the orchestrator prepares on Initialize
func (d DirectoriesConfig) List() []string {
	return []string{d.Camera, d.Sensors, d.Staging, d.Output}
}

type UnitsConfig struct {
	ProcessingQueue  subsystems.ProcessingQueueOptions  `yaml:"processing_queue"`
	CleanupQueue     subsystems.CleanupQueueOptions     `yaml:"cleanup_queue"`
	OutputManager    subsystems.OutputManagerOptions    `yaml:"output_manager"`
	PictureEngine    subsystems.PictureEngineOptions    `yaml:"picture_engine"`
	FileInputManager subsystems.FileInputManagerOptions `yaml:"file_input_manager"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *SatelliteConfig {
	config := &SatelliteConfig{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads satellite configuration from a YAML file
func LoadConfigFromFile(filename string) (*SatelliteConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config SatelliteConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *SatelliteConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.Orchestrator.ServiceName == "" {
		return errors.NewValidationError("service name is required", nil)
	}
	if config.Orchestrator.CallTimeout < 0 || config.Orchestrator.HealthCheckTimeout < 0 || config.Orchestrator.ForceShutdownTimeout < 0 {
		return errors.NewValidationError("timeouts cannot be negative", nil)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError("invalid log level", err).WithContext("level", config.Logging.Level)
	}

	if err := validatePort(config.HealthEndpoint.Port); err != nil {
		return errors.NewValidationError("invalid health endpoint port", err)
	}
	if config.Control.IsEnabled() {
		if err := validatePort(config.Control.Port); err != nil {
			return errors.NewValidationError("invalid control port", err)
		}
		if config.Control.Port == config.HealthEndpoint.Port {
			return errors.NewValidationError("control and health endpoint ports must differ", nil).
				WithContext("port", config.Control.Port)
		}
	}

	for _, dir := range config.Directories.List() {
		if dir == "" {
			return errors.NewValidationError("directory paths cannot be empty", nil)
		}
	}

	if err := monitoring.ValidateHealthMonitorConfig(config.Monitoring); err != nil {
		return errors.NewValidationError("invalid monitoring configuration", err)
	}

	switch config.RuntimeFiles.ServiceContext {
	case "", processfile.SystemService, processfile.UserService:
	default:
		return errors.NewValidationError("invalid runtime files service context", nil).
			WithContext("service_context", string(config.RuntimeFiles.ServiceContext))
	}

	if config.Units.PictureEngine.MaxConcurrentTasks < 0 {
		return errors.NewValidationError("max concurrent tasks cannot be negative", nil)
	}
	if config.Units.ProcessingQueue.Capacity < 0 {
		return errors.NewValidationError("processing queue capacity cannot be negative", nil)
	}

	return nil
}

// IsEnabled reports whether the control service should be exposed
func (c ControlConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsEnabled reports whether the PID and port files should be written
func (c RuntimeFilesConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// UnitOptions converts the orchestrator timeouts into per-unit call bounds
func (c *SatelliteConfig) UnitOptions() units.Options {
	return units.Options{
		CallTimeout:        c.Orchestrator.CallTimeout,
		HealthCheckTimeout: c.Orchestrator.HealthCheckTimeout,
	}
}

// BuildRegistrations wires the satellite subsystems together. The factories
// run in registration order during Initialize, so every dependency is built
// before the unit that consumes it.
func BuildRegistrations(config *SatelliteConfig, logger logging.Logger) []Registration {
	var (
		queue   *subsystems.ProcessingQueue
		cleanup *subsystems.CleanupQueue
		output  *subsystems.OutputManager
	)

	unitLogger := func(id string) logging.Logger {
		return logging.WithPrefix(logger, "unit: "+id+" , ")
	}

	return []Registration{
		{
			ID: subsystems.ProcessingQueueID,
			Factory: func() (units.Unit, error) {
				queue = subsystems.NewProcessingQueue(config.Units.ProcessingQueue, unitLogger(string(subsystems.ProcessingQueueID)))
				return queue, nil
			},
		},
		{
			ID: subsystems.CleanupQueueID,
			Factory: func() (units.Unit, error) {
				cleanup = subsystems.NewCleanupQueue(config.Units.CleanupQueue, unitLogger(string(subsystems.CleanupQueueID)))
				return cleanup, nil
			},
		},
		{
			ID: subsystems.OutputManagerID,
			Factory: func() (units.Unit, error) {
				options := config.Units.OutputManager
				options.StagingDir = config.Directories.Staging
				options.OutputDir = config.Directories.Output
				output = subsystems.NewOutputManager(options, unitLogger(string(subsystems.OutputManagerID)))
				return output, nil
			},
		},
		{
			ID: subsystems.PictureEngineID,
			Factory: func() (units.Unit, error) {
				if queue == nil || cleanup == nil || output == nil {
					return nil, fmt.Errorf("picture engine dependencies are not instantiated")
				}
				options := config.Units.PictureEngine
				options.StagingDir = config.Directories.Staging
				return subsystems.NewPictureEngine(options, queue, output, cleanup, unitLogger(string(subsystems.PictureEngineID))), nil
			},
		},
		{
			ID: subsystems.FileInputManagerID,
			Factory: func() (units.Unit, error) {
				if queue == nil {
					return nil, fmt.Errorf("file input manager requires the processing queue")
				}
				options := config.Units.FileInputManager
				if len(options.Sources) == 0 {
					options.Sources = []subsystems.InputSource{
						{Name: "camera", Dir: config.Directories.Camera},
						{Name: "sensors", Dir: config.Directories.Sensors},
					}
				}
				return subsystems.NewFileInputManager(options, queue, unitLogger(string(subsystems.FileInputManagerID))), nil
			},
		},
	}
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *SatelliteConfig) {
	if config.Orchestrator.ServiceName == "" {
		config.Orchestrator.ServiceName = DefaultServiceName
	}
	if config.Orchestrator.CallTimeout == 0 {
		config.Orchestrator.CallTimeout = units.DefaultCallTimeout
	}
	if config.Orchestrator.HealthCheckTimeout == 0 {
		config.Orchestrator.HealthCheckTimeout = units.DefaultHealthCheckTimeout
	}
	if config.Orchestrator.ForceShutdownTimeout == 0 {
		config.Orchestrator.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}

	if config.HealthEndpoint.Host == "" {
		config.HealthEndpoint.Host = DefaultHealthHost
	}
	if config.HealthEndpoint.Port == 0 {
		config.HealthEndpoint.Port = DefaultHealthPort
	}
	if config.HealthEndpoint.ReadTimeout == 0 {
		config.HealthEndpoint.ReadTimeout = 10 * time.Second
	}
	if config.HealthEndpoint.WriteTimeout == 0 {
		config.HealthEndpoint.WriteTimeout = 10 * time.Second
	}

	if config.Control.Port == 0 {
		config.Control.Port = DefaultControlPort
	}

	if config.Directories.Camera == "" {
		config.Directories.Camera = filepath.Join(DefaultDataDir, "input", "camera")
	}
	if config.Directories.Sensors == "" {
		config.Directories.Sensors = filepath.Join(DefaultDataDir, "input", "sensors")
	}
	if config.Directories.Staging == "" {
		config.Directories.Staging = filepath.Join(DefaultDataDir, "staging")
	}
	if config.Directories.Output == "" {
		config.Directories.Output = filepath.Join(DefaultDataDir, "output")
	}

	if config.Units.PictureEngine.ModelPath == "" {
		config.Units.PictureEngine.ModelPath = subsystems.DefaultModelPath
	}
	if config.Units.PictureEngine.MaxConcurrentTasks == 0 {
		config.Units.PictureEngine.MaxConcurrentTasks = subsystems.DefaultMaxConcurrentTasks
	}
	if config.Units.PictureEngine.TaskTimeout == 0 {
		config.Units.PictureEngine.TaskTimeout = subsystems.DefaultTaskTimeout
	}
	if config.Units.ProcessingQueue.Capacity == 0 {
		config.Units.ProcessingQueue.Capacity = subsystems.DefaultQueueCapacity
	}

	if config.Monitoring.Interval == 0 {
		config.Monitoring.Interval = monitoring.DefaultInterval
	}
	if config.Monitoring.Restart.Policy == "" {
		config.Monitoring.Restart.Policy = monitoring.RestartNever
	}
	if config.Monitoring.Restart.RetryDelay == 0 {
		config.Monitoring.Restart.RetryDelay = monitoring.DefaultRetryDelay
	}
	if config.Monitoring.Restart.BackoffRate == 0 {
		config.Monitoring.Restart.BackoffRate = monitoring.DefaultBackoffRate
	}
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}
