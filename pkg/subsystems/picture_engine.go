package subsystems

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"
)

const (
	DefaultModelPath          = "models/yolo_v8n.pt"
	DefaultMaxConcurrentTasks = 4
	DefaultTaskTimeout        = 300 * time.Second
	DefaultPollInterval       = 500 * time.Millisecond
)

type PictureEngineOptions struct {
	ModelPath          string        `yaml:"model_path,omitempty"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks,omitempty"`
	TaskTimeout        time.Duration `yaml:"task_timeout,omitempty"`
	PollInterval       time.Duration `yaml:"poll_interval,omitempty"`
	StagingDir         string        `yaml:"-"`
}

type PictureEngineStats struct {
	ProcessedCount int  `json:"processed_count"`
	FailedCount    int  `json:"failed_count"`
	ActiveTasks    int  `json:"active_tasks"`
	Running        bool `json:"is_running"`
}

// detectionResult is the placeholder output written for every processed picture
type detectionResult struct {
	TaskID      string    `json:"task_id"`
	Source      string    `json:"source"`
	InputPath   string    `json:"input_path"`
	Model       string    `json:"model"`
	Detections  []string  `json:"detections"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PictureEngine drains the processing queue and runs inference on each task.
// Inference itself is a placeholder that records an empty detection set.
type PictureEngine struct {
	options   PictureEngineOptions
	source    TaskSource
	publisher Publisher
	cleanup   CleanupSink
	logger    logging.Logger

	mutex     sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	tasks     sync.WaitGroup
	active    int
	processed int
	failed    int
}

func NewPictureEngine(options PictureEngineOptions, source TaskSource, publisher Publisher, cleanup CleanupSink, logger logging.Logger) *PictureEngine {
	if options.ModelPath == "" {
		options.ModelPath = DefaultModelPath
	}
	if options.MaxConcurrentTasks <= 0 {
		options.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if options.TaskTimeout <= 0 {
		options.TaskTimeout = DefaultTaskTimeout
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	return &PictureEngine{
		options:   options,
		source:    source,
		publisher: publisher,
		cleanup:   cleanup,
		logger:    logger,
	}
}

func (e *PictureEngine) ID() domain.UnitID {
	return PictureEngineID
}

func (e *PictureEngine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	e.running = true

	go e.loop(loopCtx, e.loopDone)

	e.logger.Infof("Picture engine started, model: %s, max_concurrent_tasks: %d, task_timeout: %v",
		e.options.ModelPath, e.options.MaxConcurrentTasks, e.options.TaskTimeout)
	return nil
}

func (e *PictureEngine) Stop(ctx context.Context) error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	loopDone := e.loopDone
	e.mutex.Unlock()

	cancel()

	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("picture engine stop interrupted: %w", ctx.Err())
	}

	e.logger.Infof("Picture engine stopped")
	return nil
}

func (e *PictureEngine) HealthCheck(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	select {
	case <-e.loopDone:
		return fmt.Errorf("picture engine loop exited")
	default:
		return nil
	}
}

func (e *PictureEngine) Stats() PictureEngineStats {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return PictureEngineStats{
		ProcessedCount: e.processed,
		FailedCount:    e.failed,
		ActiveTasks:    e.active,
		Running:        e.running,
	}
}

func (e *PictureEngine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.tasks.Wait()

	slots := make(chan struct{}, e.options.MaxConcurrentTasks)
	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	for {
		e.dispatch(ctx, slots)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch hands queued tasks to workers until the queue or the free slots run out
func (e *PictureEngine) dispatch(ctx context.Context, slots chan struct{}) {
	for {
		select {
		case slots <- struct{}{}:
		default:
			return
		}

		task, ok := e.source.Dequeue()
		if !ok {
			<-slots
			return
		}

		e.tasks.Add(1)
		go func(task Task) {
			defer e.tasks.Done()
			defer func() { <-slots }()
			e.process(ctx, task)
		}(task)
	}
}

func (e *PictureEngine) process(ctx context.Context, task Task) {
	e.mutex.Lock()
	e.active++
	e.mutex.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, e.options.TaskTimeout)
	defer cancel()

	err := e.runTask(taskCtx, task)

	e.mutex.Lock()
	e.active--
	if err != nil {
		e.failed++
	} else {
		e.processed++
	}
	count := e.processed
	e.mutex.Unlock()

	if err != nil {
		e.logger.Errorf("Task processing failed, id: %s, path: %s, error: %v", task.ID, task.Path, err)
		return
	}

	e.logger.Infof("Processed task %d: %s", count, task.Path)

	if e.cleanup != nil {
		if _, err := e.cleanup.AddRequest(task.Path, "processed"); err != nil {
			e.logger.Warnf("Failed to request cleanup, id: %s, error: %v", task.ID, err)
		}
	}
}

func (e *PictureEngine) runTask(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := detectionResult{
		TaskID:      task.ID,
		Source:      task.Source,
		InputPath:   task.Path,
		Model:       e.options.ModelPath,
		Detections:  []string{},
		ProcessedAt: time.Now().UTC(),
	}

	if e.options.StagingDir == "" || e.publisher == nil {
		return nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(task.Path), filepath.Ext(task.Path))
	stagingPath := filepath.Join(e.options.StagingDir, fmt.Sprintf("%s_%s.json", base, task.ID))
	if err := os.WriteFile(stagingPath, data, 0644); err != nil {
		return fmt.Errorf("write staged result: %w", err)
	}

	if _, err := e.publisher.Publish(ctx, stagingPath); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}
