package monitoring

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultRetryDelay  = 5 * time.Second
	DefaultBackoffRate = 2.0
	DefaultMaxRetries  = 3

	// Name under which the monitor is attached to the orchestrator
	Name = "health_monitor"
)

type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
)

type RestartConfig struct {
	Policy      RestartPolicy `yaml:"policy"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BackoffRate float64       `yaml:"backoff_rate"` // Exponential backoff multiplier
}

type HealthMonitorConfig struct {
	Enabled      bool          `yaml:"enabled,omitempty"`
	Interval     time.Duration `yaml:"interval,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	Restart      RestartConfig `yaml:"restart,omitempty"`
}

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	Retries              int
}

// HealthMonitor periodically samples unit status through the operator
// contract and, when the policy allows, restarts running units that stay
// unhealthy. Units that are not running are reported but left alone.
// It is attached to the orchestrator as an endpoint so that it runs only
// while the units are started.
type HealthMonitor struct {
	config   HealthMonitorConfig
	contract domain.Contract
	logger   logging.Logger

	mutex      sync.Mutex
	states     map[domain.UnitID]*HealthCheckState
	restarting map[domain.UnitID]bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewHealthMonitor(config HealthMonitorConfig, contract domain.Contract, logger logging.Logger) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Restart.Policy == "" {
		config.Restart.Policy = RestartNever
	}
	if config.Restart.BackoffRate < 1.0 {
		config.Restart.BackoffRate = 1.0
	}
	return &HealthMonitor{
		config:     config,
		contract:   contract,
		logger:     logger,
		states:     make(map[domain.UnitID]*HealthCheckState),
		restarting: make(map[domain.UnitID]bool),
	}
}

func (h *HealthMonitor) Name() string {
	return Name
}

func (h *HealthMonitor) Start(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.cancel != nil {
		return nil
	}

	h.logger.Infof("Starting health monitor, interval: %v, restart policy: %s", h.config.Interval, h.config.Restart.Policy)

	// The loop outlives the start call, so it gets its own context
	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go h.loop(loopCtx)
	return nil
}

func (h *HealthMonitor) Shutdown(ctx context.Context) error {
	h.mutex.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Infof("Health monitor stopped")
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("health monitor did not stop in time", ctx.Err())
	}
}

// State returns a copy of the last observed state of a unit
func (h *HealthMonitor) State(id domain.UnitID) (HealthCheckState, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	state, ok := h.states[id]
	if !ok {
		return HealthCheckState{Status: HealthCheckStatusUnknown}, false
	}
	return *state, true
}

func (h *HealthMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	if h.config.InitialDelay > 0 {
		select {
		case <-time.After(h.config.InitialDelay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.performCheck(ctx)
	for {
		select {
		case <-ticker.C:
			h.performCheck(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthMonitor) performCheck(ctx context.Context) {
	status := h.contract.AggregateStatus(ctx)

	for id, report := range status.Units {
		switch {
		case !report.Running:
			// never started or stopped units wait for an operator restart
			h.updateState(ctx, id, false, false, "unit is not running")
		case !report.Healthy:
			h.updateState(ctx, id, false, true, "unit health check failed")
		default:
			h.updateState(ctx, id, true, false, "")
		}
	}
}

func (h *HealthMonitor) updateState(ctx context.Context, id domain.UnitID, isHealthy, restartable bool, message string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	state, ok := h.states[id]
	if !ok {
		state = &HealthCheckState{Status: HealthCheckStatusUnknown}
		h.states[id] = state
	}

	previousStatus := state.Status
	state.LastCheck = time.Now()
	state.Message = message

	if isHealthy {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		state.Retries = 0

		if state.Status != HealthCheckStatusHealthy {
			state.Status = HealthCheckStatusHealthy
			h.logger.Infof("Unit health recovered, id: %s, previous: %s", id, previousStatus)
		}
		return
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0

	newStatus := HealthCheckStatusUnhealthy
	if state.ConsecutiveFailures == 1 {
		newStatus = HealthCheckStatusDegraded
	}

	if state.Status != newStatus {
		state.Status = newStatus
		h.logger.Warnf("Unit health changed, id: %s, status: %s->%s, consecutive_failures: %d, message: %s",
			id, previousStatus, newStatus, state.ConsecutiveFailures, message)
	} else {
		h.logger.Debugf("Unit still failing, id: %s, status: %s, consecutive_failures: %d",
			id, state.Status, state.ConsecutiveFailures)
	}

	if restartable {
		h.checkRestartCondition(ctx, id, state, message)
	}
}

// checkRestartCondition must be called with the mutex held
func (h *HealthMonitor) checkRestartCondition(ctx context.Context, id domain.UnitID, state *HealthCheckState, message string) {
	if h.config.Restart.Policy != RestartOnFailure || state.Status != HealthCheckStatusUnhealthy {
		return
	}
	if h.restarting[id] {
		return
	}
	if h.config.Restart.MaxRetries > 0 && state.Retries >= h.config.Restart.MaxRetries {
		if state.Retries == h.config.Restart.MaxRetries {
			h.logger.Errorf("Max restart retries exceeded, id: %s, retries: %d", id, state.Retries)
			state.Retries++
		}
		return
	}

	state.Retries++
	delay := h.retryDelay(state.Retries)
	h.restarting[id] = true

	h.logger.Warnf("Scheduling unit restart, id: %s, retry: %d, delay: %v, reason: %s", id, state.Retries, delay, message)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mutex.Lock()
			delete(h.restarting, id)
			h.mutex.Unlock()
		}()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		if err := h.contract.Restart(ctx, id); err != nil {
			h.logger.Errorf("Failed to restart unit, id: %s, error: %v", id, err)
			return
		}
		h.logger.Infof("Unit restarted by health monitor, id: %s", id)
	}()
}

func (h *HealthMonitor) retryDelay(retry int) time.Duration {
	if h.config.Restart.RetryDelay <= 0 {
		return 0
	}
	factor := math.Pow(h.config.Restart.BackoffRate, float64(retry-1))
	return time.Duration(float64(h.config.Restart.RetryDelay) * factor)
}

func (s HealthCheckState) String() string {
	return fmt.Sprintf("%s (failures: %d, retries: %d)", s.Status, s.ConsecutiveFailures, s.Retries)
}
