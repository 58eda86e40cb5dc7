// Package subsystems holds the units supervised by the satellite orchestrator:
// input watching, task queueing, picture processing, cleanup and output
// publishing. Each type implements units.Unit.
package subsystems

import (
	"context"
	"errors"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
)

const (
	ProcessingQueueID  domain.UnitID = "processing_queue"
	CleanupQueueID     domain.UnitID = "cleanup_queue"
	OutputManagerID    domain.UnitID = "output_manager"
	PictureEngineID    domain.UnitID = "picture_engine"
	FileInputManagerID domain.UnitID = "file_input_manager"
)

var (
	ErrNotRunning = errors.New("subsystem is not running")
	ErrQueueFull  = errors.New("processing queue is full")
)

// Task is a unit of work produced by the input manager
type Task struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Source     string    `json:"source"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskSink accepts new tasks
type TaskSink interface {
	Enqueue(path, source string) (Task, error)
}

// TaskSource hands out queued tasks
type TaskSource interface {
	Dequeue() (Task, bool)
}

// CleanupSink accepts cleanup requests for processed input files
type CleanupSink interface {
	AddRequest(filePath, reason string) (CleanupRequest, error)
}

// Publisher moves finished results out of staging
type Publisher interface {
	Publish(ctx context.Context, stagingPath string) (ManifestEntry, error)
}
