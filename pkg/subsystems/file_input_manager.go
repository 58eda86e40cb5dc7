package subsystems

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// InputSource is a named directory that produces pictures
type InputSource struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

type FileInputManagerOptions struct {
	Sources []InputSource `yaml:"sources,omitempty"`
	// ScanOnStart enqueues files already present in the source directories
	ScanOnStart bool `yaml:"scan_on_start,omitempty"`
}

type FileInputStats struct {
	FilesSeen     int  `json:"files_seen"`
	FilesRejected int  `json:"files_rejected"`
	Watching      int  `json:"watching"`
	Running       bool `json:"is_running"`
}

// FileInputManager watches the input directories and turns new files into tasks
type FileInputManager struct {
	options FileInputManagerOptions
	sink    TaskSink
	logger  logging.Logger

	mutex    sync.Mutex
	watcher  *fsnotify.Watcher
	sources  map[string]string
	stopCh   chan struct{}
	loopDone chan struct{}
	seen     int
	rejected int
}

func NewFileInputManager(options FileInputManagerOptions, sink TaskSink, logger logging.Logger) *FileInputManager {
	return &FileInputManager{
		options: options,
		sink:    sink,
		logger:  logger,
	}
}

func (m *FileInputManager) ID() domain.UnitID {
	return FileInputManagerID
}

func (m *FileInputManager) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	sources := make(map[string]string, len(m.options.Sources))
	for _, source := range m.options.Sources {
		dir, err := filepath.Abs(source.Dir)
		if err != nil {
			watcher.Close()
			return fmt.Errorf("failed to resolve input directory %s: %w", source.Dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch input directory %s: %w", dir, err)
		}
		sources[dir] = source.Name
		m.logger.Infof("Watching input source, name: %s, dir: %s", source.Name, dir)
	}

	m.watcher = watcher
	m.sources = sources
	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})

	go m.watchLoop(watcher, m.stopCh, m.loopDone)

	if m.options.ScanOnStart {
		for dir, name := range sources {
			m.scanLocked(dir, name)
		}
	}

	m.logger.Infof("File input manager started, sources: %d", len(sources))
	return nil
}

func (m *FileInputManager) Stop(ctx context.Context) error {
	m.mutex.Lock()
	watcher := m.watcher
	if watcher == nil {
		m.mutex.Unlock()
		return nil
	}
	stopCh := m.stopCh
	loopDone := m.loopDone
	m.watcher = nil
	m.sources = nil
	m.mutex.Unlock()

	close(stopCh)
	closeErr := watcher.Close()

	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("file input manager stop interrupted: %w", ctx.Err())
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close file watcher: %w", closeErr)
	}

	m.logger.Infof("File input manager stopped")
	return nil
}

func (m *FileInputManager) HealthCheck(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.watcher == nil {
		return ErrNotRunning
	}
	select {
	case <-m.loopDone:
		return fmt.Errorf("file watch loop exited")
	default:
	}
	for dir := range m.sources {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("input directory unavailable: %w", err)
		}
	}
	return nil
}

func (m *FileInputManager) Stats() FileInputStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return FileInputStats{
		FilesSeen:     m.seen,
		FilesRejected: m.rejected,
		Watching:      len(m.sources),
		Running:       m.watcher != nil,
	}
}

func (m *FileInputManager) watchLoop(watcher *fsnotify.Watcher, stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			m.handleCreate(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warnf("File watcher error: %v", err)
		}
	}
}

func (m *FileInputManager) handleCreate(path string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	name, ok := m.sources[filepath.Dir(path)]
	if !ok {
		return
	}
	m.submitLocked(path, name)
}

func (m *FileInputManager) scanLocked(dir, name string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warnf("Failed to scan input directory, dir: %s, error: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m.submitLocked(filepath.Join(dir, entry.Name()), name)
	}
}

func (m *FileInputManager) submitLocked(path, source string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	m.seen++
	task, err := m.sink.Enqueue(path, source)
	if err != nil {
		m.rejected++
		m.logger.Warnf("Input file rejected, source: %s, path: %s, error: %v", source, path, err)
		return
	}
	m.logger.Infof("New input file, source: %s, path: %s, task: %s", source, path, task.ID)
}
