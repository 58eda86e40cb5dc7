package units

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
)

// ManagedUnit is the failure boundary around a Unit. Errors, panics and
// timeouts raised by the unit are logged here and returned as DomainErrors;
// health check faults become "unhealthy".
type ManagedUnit struct {
	unit    Unit
	options Options
	logger  logging.Logger
	now     func() time.Time

	// Start, Stop and Restart hold it exclusively; health checks share it
	lifecycleMutex sync.RWMutex

	mutex     sync.RWMutex
	running   bool
	startedAt time.Time // non-zero iff running
}

func NewManagedUnit(unit Unit, options Options, logger logging.Logger) *ManagedUnit {
	return &ManagedUnit{
		unit:    unit,
		options: options.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

func (u *ManagedUnit) ID() domain.UnitID {
	return u.unit.ID()
}

func (u *ManagedUnit) IsRunning() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.running
}

// StartedAt returns the start timestamp and whether the unit is running
func (u *ManagedUnit) StartedAt() (time.Time, bool) {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.startedAt, u.running
}

func (u *ManagedUnit) Start(ctx context.Context) error {
	u.lifecycleMutex.Lock()
	defer u.lifecycleMutex.Unlock()
	return u.start(ctx)
}

func (u *ManagedUnit) Stop(ctx context.Context) error {
	u.lifecycleMutex.Lock()
	defer u.lifecycleMutex.Unlock()
	return u.stop(ctx)
}

// Restart stops and starts the unit; it succeeds only if both steps do
func (u *ManagedUnit) Restart(ctx context.Context) error {
	u.lifecycleMutex.Lock()
	defer u.lifecycleMutex.Unlock()

	u.logger.Infof("Restarting unit, id: %s", u.ID())

	if err := u.stop(ctx); err != nil {
		u.logger.Errorf("Failed to restart unit, id: %s, error: %v", u.ID(), err)
		return err
	}
	if err := u.start(ctx); err != nil {
		u.logger.Errorf("Failed to restart unit, id: %s, error: %v", u.ID(), err)
		return err
	}

	u.logger.Infof("Unit restarted successfully, id: %s", u.ID())
	return nil
}

// Healthy never calls the unit's health check while the unit is stopped
// or in the middle of a start, stop or restart
func (u *ManagedUnit) Healthy(ctx context.Context) bool {
	if !u.lifecycleMutex.TryRLock() {
		return false
	}
	defer u.lifecycleMutex.RUnlock()

	if !u.IsRunning() {
		return false
	}
	return u.checkHealth(ctx)
}

// Status reports a unit in transition as not healthy without checking it
func (u *ManagedUnit) Status(ctx context.Context) domain.StatusReport {
	idle := u.lifecycleMutex.TryRLock()
	if idle {
		defer u.lifecycleMutex.RUnlock()
	}

	startedAt, running := u.StartedAt()

	report := domain.StatusReport{
		Name:    u.ID(),
		Running: running,
	}
	if running {
		report.StartedAt = &startedAt
		report.UptimeSeconds = u.now().Sub(startedAt).Seconds()
		report.Healthy = idle && u.checkHealth(ctx)
	}
	return report
}

func (u *ManagedUnit) start(ctx context.Context) error {
	id := u.ID()

	if u.IsRunning() {
		u.logger.Debugf("Unit is already running, id: %s", id)
		return nil
	}

	u.logger.Infof("Starting unit, id: %s", id)

	if err := u.invoke(ctx, "start", u.options.CallTimeout, u.unit.Start); err != nil {
		u.logger.Errorf("Failed to start unit, id: %s, error: %v", id, err)
		return u.lifecycleError("failed to start unit", err)
	}

	u.setRunning(true)

	u.logger.Infof("Unit started successfully, id: %s", id)
	return nil
}

func (u *ManagedUnit) stop(ctx context.Context) error {
	id := u.ID()

	if !u.IsRunning() {
		u.logger.Debugf("Unit is not running, nothing to stop, id: %s", id)
		return nil
	}

	u.logger.Infof("Stopping unit, id: %s", id)

	if err := u.invoke(ctx, "stop", u.options.CallTimeout, u.unit.Stop); err != nil {
		u.logger.Errorf("Failed to stop unit, id: %s, error: %v", id, err)
		return u.lifecycleError("failed to stop unit", err)
	}

	u.setRunning(false)

	u.logger.Infof("Unit stopped successfully, id: %s", id)
	return nil
}

func (u *ManagedUnit) checkHealth(ctx context.Context) bool {
	if err := u.invoke(ctx, "health_check", u.options.HealthCheckTimeout, u.unit.HealthCheck); err != nil {
		u.logger.Warnf("Health check failed, id: %s, error: %v", u.ID(), err)
		return false
	}
	return true
}

func (u *ManagedUnit) setRunning(running bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.running = running
	if running {
		u.startedAt = u.now()
	} else {
		u.startedAt = time.Time{}
	}
}

// invoke runs fn with a deadline and converts panics into errors.
// A unit call that ignores its context keeps running in the background
// after the deadline; the caller is released regardless.
func (u *ManagedUnit) invoke(ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during %s: %v", operation, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return errors.NewCancelledError(operation+" was cancelled", ctx.Err())
		}
		return errors.NewTimeoutError(fmt.Sprintf("%s timed out after %v", operation, timeout), callCtx.Err())
	}
}

func (u *ManagedUnit) lifecycleError(message string, err error) error {
	if domainErr, ok := errors.AsDomainError(err); ok &&
		(domainErr.Type == errors.ErrorTypeTimeout || domainErr.Type == errors.ErrorTypeCancelled) {
		return domainErr.WithContext("unit_id", string(u.ID()))
	}
	return errors.NewLifecycleError(message, err).WithContext("unit_id", string(u.ID()))
}
