package monitoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContract serves a mutable set of unit reports and records restarts
type fakeContract struct {
	mutex      sync.Mutex
	reports    map[domain.UnitID]domain.StatusReport
	restarts   map[domain.UnitID]int
	restartErr error
	recover    bool
}

func newFakeContract(reports ...domain.StatusReport) *fakeContract {
	c := &fakeContract{
		reports:  make(map[domain.UnitID]domain.StatusReport),
		restarts: make(map[domain.UnitID]int),
	}
	for _, report := range reports {
		c.reports[report.Name] = report
	}
	return c
}

func (c *fakeContract) AggregateStatus(ctx context.Context) domain.AggregateStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	units := make(map[domain.UnitID]domain.StatusReport, len(c.reports))
	for id, report := range c.reports {
		units[id] = report
	}
	return domain.AggregateStatus{Units: units}
}

func (c *fakeContract) Status(ctx context.Context, id domain.UnitID) (domain.StatusReport, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	report, ok := c.reports[id]
	if !ok {
		return domain.StatusReport{}, fmt.Errorf("unknown unit %s", id)
	}
	return report, nil
}

func (c *fakeContract) Restart(ctx context.Context, id domain.UnitID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.restarts[id]++
	if c.restartErr != nil {
		return c.restartErr
	}
	if c.recover {
		c.reports[id] = domain.StatusReport{Name: id, Running: true, Healthy: true}
	}
	return nil
}

func (c *fakeContract) restartCount(id domain.UnitID) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.restarts[id]
}

func testMonitorConfig(policy RestartPolicy) HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Restart: RestartConfig{
			Policy:      policy,
			MaxRetries:  2,
			BackoffRate: 1.0,
		},
	}
}

func TestHealthMonitor_TracksStates(t *testing.T) {
	contract := newFakeContract(
		domain.StatusReport{Name: "queue", Running: true, Healthy: true},
		domain.StatusReport{Name: "engine", Running: true, Healthy: false},
	)
	monitor := NewHealthMonitor(testMonitorConfig(RestartNever), contract, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))
	defer monitor.Shutdown(ctx)

	assert.Eventually(t, func() bool {
		state, ok := monitor.State("engine")
		return ok && state.Status == HealthCheckStatusUnhealthy
	}, time.Second, 5*time.Millisecond)

	state, ok := monitor.State("queue")
	require.True(t, ok)
	assert.Equal(t, HealthCheckStatusHealthy, state.Status)
	assert.Zero(t, state.ConsecutiveFailures)

	state, _ = monitor.State("engine")
	assert.Equal(t, "unit health check failed", state.Message)
	assert.Zero(t, contract.restartCount("engine"), "never policy must not restart")

	_, ok = monitor.State("missing")
	assert.False(t, ok)
}

func TestHealthMonitor_DegradedThenUnhealthy(t *testing.T) {
	contract := newFakeContract(domain.StatusReport{Name: "engine"})
	monitor := NewHealthMonitor(testMonitorConfig(RestartNever), contract, logging.NewNopLogger())
	ctx := context.Background()

	monitor.performCheck(ctx)
	state, _ := monitor.State("engine")
	assert.Equal(t, HealthCheckStatusDegraded, state.Status)
	assert.Equal(t, "unit is not running", state.Message)

	monitor.performCheck(ctx)
	state, _ = monitor.State("engine")
	assert.Equal(t, HealthCheckStatusUnhealthy, state.Status)
	assert.Equal(t, 2, state.ConsecutiveFailures)
}

func TestHealthMonitor_RestartOnFailure(t *testing.T) {
	contract := newFakeContract(domain.StatusReport{Name: "engine", Running: true, Healthy: false})
	contract.recover = true
	monitor := NewHealthMonitor(testMonitorConfig(RestartOnFailure), contract, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))

	assert.Eventually(t, func() bool {
		state, _ := monitor.State("engine")
		return state.Status == HealthCheckStatusHealthy
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, monitor.Shutdown(ctx))
	assert.GreaterOrEqual(t, contract.restartCount("engine"), 1)

	state, _ := monitor.State("engine")
	assert.Zero(t, state.Retries)
}

func TestHealthMonitor_StoppedUnitNotRestarted(t *testing.T) {
	contract := newFakeContract(
		domain.StatusReport{Name: "engine", Running: false},
		domain.StatusReport{Name: "queue", Running: true, Healthy: true},
	)
	contract.recover = true
	monitor := NewHealthMonitor(testMonitorConfig(RestartOnFailure), contract, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))

	assert.Eventually(t, func() bool {
		state, _ := monitor.State("engine")
		return state.Status == HealthCheckStatusUnhealthy
	}, time.Second, 5*time.Millisecond)

	// several more cycles at the unhealthy level
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, monitor.Shutdown(ctx))

	assert.Zero(t, contract.restartCount("engine"))
	state, _ := monitor.State("engine")
	assert.Equal(t, HealthCheckStatusUnhealthy, state.Status)
	assert.Equal(t, "unit is not running", state.Message)
	assert.Zero(t, state.Retries)
}

func TestHealthMonitor_MaxRetries(t *testing.T) {
	contract := newFakeContract(domain.StatusReport{Name: "engine", Running: true, Healthy: false})
	contract.restartErr = fmt.Errorf("engine keeps failing")
	monitor := NewHealthMonitor(testMonitorConfig(RestartOnFailure), contract, logging.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))

	assert.Eventually(t, func() bool {
		return contract.restartCount("engine") == 2
	}, time.Second, 5*time.Millisecond)

	// further checks stay within the retry budget
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, monitor.Shutdown(ctx))
	assert.Equal(t, 2, contract.restartCount("engine"))
}

func TestHealthMonitor_RetryDelay(t *testing.T) {
	monitor := NewHealthMonitor(HealthMonitorConfig{
		Restart: RestartConfig{
			Policy:      RestartOnFailure,
			RetryDelay:  time.Second,
			BackoffRate: 2.0,
		},
	}, newFakeContract(), logging.NewNopLogger())

	assert.Equal(t, time.Second, monitor.retryDelay(1))
	assert.Equal(t, 2*time.Second, monitor.retryDelay(2))
	assert.Equal(t, 4*time.Second, monitor.retryDelay(3))
}

func TestHealthMonitor_Defaults(t *testing.T) {
	monitor := NewHealthMonitor(HealthMonitorConfig{}, newFakeContract(), logging.NewNopLogger())

	assert.Equal(t, Name, monitor.Name())
	assert.Equal(t, DefaultInterval, monitor.config.Interval)
	assert.Equal(t, RestartNever, monitor.config.Restart.Policy)
	assert.Zero(t, monitor.retryDelay(1))
}

func TestHealthMonitor_IdempotentLifecycle(t *testing.T) {
	monitor := NewHealthMonitor(testMonitorConfig(RestartNever), newFakeContract(), logging.NewNopLogger())
	ctx := context.Background()

	assert.NoError(t, monitor.Shutdown(ctx))
	require.NoError(t, monitor.Start(ctx))
	require.NoError(t, monitor.Start(ctx))
	assert.NoError(t, monitor.Shutdown(ctx))
	assert.NoError(t, monitor.Shutdown(ctx))
}
