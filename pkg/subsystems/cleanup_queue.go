package subsystems

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/google/uuid"
)

type CleanupQueueOptions struct {
	// DeleteFiles removes the requested files when the queue is drained.
	// When false, requests are only recorded and logged.
	DeleteFiles bool `yaml:"delete_files,omitempty"`
}

type CleanupRequest struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type CleanupStats struct {
	CleanupCount   int  `json:"cleanup_count"`
	PendingCleanup int  `json:"pending_cleanup"`
	Running        bool `json:"is_running"`
}

// CleanupQueue collects cleanup requests for processed input files
type CleanupQueue struct {
	options CleanupQueueOptions
	logger  logging.Logger

	mutex   sync.Mutex
	running bool
	count   int
	pending []CleanupRequest
}

func NewCleanupQueue(options CleanupQueueOptions, logger logging.Logger) *CleanupQueue {
	return &CleanupQueue{
		options: options,
		logger:  logger,
	}
}

func (c *CleanupQueue) ID() domain.UnitID {
	return CleanupQueueID
}

func (c *CleanupQueue) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.running = true
	c.logger.Infof("Cleanup queue started, delete_files: %t", c.options.DeleteFiles)
	return nil
}

func (c *CleanupQueue) Stop(ctx context.Context) error {
	drained := c.Drain()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.running = false
	c.logger.Infof("Cleanup queue stopped, drained: %d", drained)
	return nil
}

func (c *CleanupQueue) HealthCheck(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return ErrNotRunning
	}
	return nil
}

func (c *CleanupQueue) AddRequest(filePath, reason string) (CleanupRequest, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.count++
	request := CleanupRequest{
		ID:        uuid.NewString(),
		FilePath:  filePath,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	c.pending = append(c.pending, request)

	c.logger.Infof("Added cleanup request %d: %s", c.count, filePath)
	return request, nil
}

// Drain handles every pending request and returns how many were handled
func (c *CleanupQueue) Drain() int {
	c.mutex.Lock()
	pending := c.pending
	c.pending = nil
	c.mutex.Unlock()

	for _, request := range pending {
		if !c.options.DeleteFiles {
			c.logger.Debugf("Cleanup request recorded, id: %s, path: %s, reason: %s", request.ID, request.FilePath, request.Reason)
			continue
		}
		if err := os.Remove(request.FilePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warnf("Failed to remove file, id: %s, path: %s, error: %v", request.ID, request.FilePath, err)
			continue
		}
		c.logger.Debugf("File removed, id: %s, path: %s", request.ID, request.FilePath)
	}
	return len(pending)
}

func (c *CleanupQueue) Pending() []CleanupRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	pending := make([]CleanupRequest, len(c.pending))
	copy(pending, c.pending)
	return pending
}

func (c *CleanupQueue) Stats() CleanupStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return CleanupStats{
		CleanupCount:   c.count,
		PendingCleanup: len(c.pending),
		Running:        c.running,
	}
}
