package subsystems

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/google/uuid"
)

const DefaultQueueCapacity = 1024

type ProcessingQueueOptions struct {
	Capacity int `yaml:"capacity,omitempty"`
}

type ProcessingQueueStats struct {
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Pending  int    `json:"pending"`
}

// ProcessingQueue is an in-memory FIFO between input and processing.
// Pending tasks are not persisted across restarts.
type ProcessingQueue struct {
	options ProcessingQueueOptions
	logger  logging.Logger

	mutex    sync.Mutex
	running  bool
	tasks    []Task
	enqueued uint64
	dequeued uint64
}

func NewProcessingQueue(options ProcessingQueueOptions, logger logging.Logger) *ProcessingQueue {
	if options.Capacity <= 0 {
		options.Capacity = DefaultQueueCapacity
	}
	return &ProcessingQueue{
		options: options,
		logger:  logger,
	}
}

func (q *ProcessingQueue) ID() domain.UnitID {
	return ProcessingQueueID
}

func (q *ProcessingQueue) Start(ctx context.Context) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.running = true
	q.logger.Infof("Processing queue started, capacity: %d", q.options.Capacity)
	return nil
}

func (q *ProcessingQueue) Stop(ctx context.Context) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.tasks) > 0 {
		q.logger.Warnf("Processing queue stopped with pending tasks, dropped: %d", len(q.tasks))
	}
	q.tasks = nil
	q.running = false
	q.logger.Infof("Processing queue stopped")
	return nil
}

func (q *ProcessingQueue) HealthCheck(ctx context.Context) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.running {
		return ErrNotRunning
	}
	if len(q.tasks) >= q.options.Capacity {
		return fmt.Errorf("%w: %d tasks pending", ErrQueueFull, len(q.tasks))
	}
	return nil
}

func (q *ProcessingQueue) Enqueue(path, source string) (Task, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.running {
		return Task{}, ErrNotRunning
	}
	if len(q.tasks) >= q.options.Capacity {
		return Task{}, ErrQueueFull
	}

	task := Task{
		ID:         uuid.NewString(),
		Path:       path,
		Source:     source,
		EnqueuedAt: time.Now(),
	}
	q.tasks = append(q.tasks, task)
	q.enqueued++

	q.logger.Debugf("Task enqueued, id: %s, source: %s, path: %s", task.ID, source, path)
	return task, nil
}

func (q *ProcessingQueue) Dequeue() (Task, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.running || len(q.tasks) == 0 {
		return Task{}, false
	}

	task := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	q.dequeued++
	return task, true
}

func (q *ProcessingQueue) Stats() ProcessingQueueStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return ProcessingQueueStats{
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Pending:  len(q.tasks),
	}
}
