package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
)

// Default application name for the satellite server
const DefaultAppName = "hsu-satellite"

// ProcessFileConfig locates the runtime files of a satellite process (PID and control port)
type ProcessFileConfig struct {
	// Base directory for runtime files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty"`

	// Service context - affects directory selection
	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	// Application name, used as subdirectory and file name
	AppName string `yaml:"app_name,omitempty"`
}

// ServiceContext defines the context in which the service runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// ProcessFileManager writes, reads and removes the runtime files of one satellite
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

func (m *ProcessFileManager) PIDFilePath() string {
	return filepath.Join(m.directory(), m.config.AppName+".pid")
}

func (m *ProcessFileManager) PortFilePath() string {
	return filepath.Join(m.directory(), m.config.AppName+".port")
}

// WritePIDFile records pid so that operators and scripts can find the satellite
func (m *ProcessFileManager) WritePIDFile(pid int) error {
	return m.writeNumber(m.PIDFilePath(), "PID", pid)
}

// WritePortFile records the control port so that the CLI can attach without flags
func (m *ProcessFileManager) WritePortFile(port int) error {
	return m.writeNumber(m.PortFilePath(), "port", port)
}

func (m *ProcessFileManager) ReadPIDFile() (int, error) {
	return m.readNumber(m.PIDFilePath(), "PID")
}

func (m *ProcessFileManager) ReadPortFile() (int, error) {
	return m.readNumber(m.PortFilePath(), "port")
}

// Remove deletes every runtime file; missing files are ignored
func (m *ProcessFileManager) Remove() error {
	errorCollection := errors.NewErrorCollection()
	for _, path := range []string{m.PIDFilePath(), m.PortFilePath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warnf("Failed to remove runtime file, path: %s, error: %v", path, err)
			errorCollection.Add(errors.NewIOError("failed to remove runtime file", err).WithContext("path", path))
			continue
		}
		m.logger.Debugf("Runtime file removed, path: %s", path)
	}
	return errorCollection.ToError()
}

func (m *ProcessFileManager) writeNumber(path, kind string, value int) error {
	m.logger.Debugf("Writing %s file, value: %d, path: %s", kind, value, path)

	if err := ensureDirectory(filepath.Dir(path)); err != nil {
		m.logger.Errorf("Runtime file directory validation failed, path: %s, error: %v", path, err)
		return err
	}

	content := fmt.Sprintf("%d\n", value)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write %s file, path: %s, error: %v", kind, path, err)
		return errors.NewIOError("failed to write "+kind+" file", err).WithContext("path", path)
	}

	m.logger.Infof("%s file written, value: %d, path: %s", kind, value, path)
	return nil
}

func (m *ProcessFileManager) readNumber(path, kind string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError(kind+" file not found", err).WithContext("path", path)
		}
		return 0, errors.NewIOError("failed to read "+kind+" file", err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := strconv.Atoi(text)
	if err != nil || value <= 0 {
		return 0, errors.NewValidationError("invalid "+kind+" file content", err).
			WithContext("path", path).WithContext("content", text)
	}
	return value, nil
}

// directory resolves the runtime directory for the configured service context
func (m *ProcessFileManager) directory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	var base string
	switch m.config.ServiceContext {
	case SystemService:
		base = systemRuntimeDirectory()
	default:
		base = userRuntimeDirectory()
	}
	return filepath.Join(base, m.config.AppName)
}

func systemRuntimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userRuntimeDirectory() string {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return cacheDir
	}
	return os.TempDir()
}

func ensureDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access runtime directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create runtime directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("runtime path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
