package units

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUnit is a mock implementation of Unit for testing
type MockUnit struct {
	mock.Mock
	id domain.UnitID
}

func (m *MockUnit) ID() domain.UnitID {
	return m.id
}

func (m *MockUnit) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnit) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnit) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func createTestManagedUnit(unit Unit) *ManagedUnit {
	return NewManagedUnit(unit, Options{}, logging.NewNopLogger())
}

func assertStartedAtInvariant(t *testing.T, u *ManagedUnit) {
	startedAt, running := u.StartedAt()
	assert.Equal(t, running, !startedAt.IsZero(), "startedAt must be set iff running")
}

func TestManagedUnit_Start(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		u := createTestManagedUnit(unit)

		err := u.Start(context.Background())

		require.NoError(t, err)
		assert.True(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
		unit.AssertExpectations(t)
	})

	t.Run("failure_is_converted", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(fmt.Errorf("disk missing")).Once()
		u := createTestManagedUnit(unit)

		err := u.Start(context.Background())

		require.Error(t, err)
		assert.True(t, errors.IsLifecycleError(err))
		assert.Contains(t, err.Error(), "disk missing")
		assert.False(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
	})

	t.Run("already_running_is_noop", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		u := createTestManagedUnit(unit)

		require.NoError(t, u.Start(context.Background()))
		require.NoError(t, u.Start(context.Background()))

		unit.AssertNumberOfCalls(t, "Start", 1)
	})
}

func TestManagedUnit_PanicIsRecovered(t *testing.T) {
	unit := &MockUnit{id: "engine"}
	unit.On("Start", mock.Anything).Run(func(args mock.Arguments) {
		panic("model file corrupt")
	}).Return(nil).Once()
	u := createTestManagedUnit(unit)

	var err error
	assert.NotPanics(t, func() {
		err = u.Start(context.Background())
	})

	require.Error(t, err)
	assert.True(t, errors.IsLifecycleError(err))
	assert.Contains(t, err.Error(), "model file corrupt")
	assert.False(t, u.IsRunning())
}

func TestManagedUnit_StartTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	unit := &MockUnit{id: "watcher"}
	unit.On("Start", mock.Anything).Run(func(args mock.Arguments) {
		<-release
	}).Return(nil).Once()
	u := NewManagedUnit(unit, Options{CallTimeout: 20 * time.Millisecond}, logging.NewNopLogger())

	err := u.Start(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.False(t, u.IsRunning())
}

func TestManagedUnit_Stop(t *testing.T) {
	t.Run("stop_running_unit", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		unit.On("Stop", mock.Anything).Return(nil).Once()
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))

		err := u.Stop(context.Background())

		require.NoError(t, err)
		assert.False(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
		unit.AssertExpectations(t)
	})

	t.Run("stop_failure_keeps_running", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		unit.On("Stop", mock.Anything).Return(fmt.Errorf("busy")).Once()
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))

		err := u.Stop(context.Background())

		require.Error(t, err)
		assert.True(t, errors.IsLifecycleError(err))
		assert.True(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
	})

	t.Run("stop_stopped_unit_is_noop", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		u := createTestManagedUnit(unit)

		require.NoError(t, u.Stop(context.Background()))
		unit.AssertNotCalled(t, "Stop", mock.Anything)
	})
}

func TestManagedUnit_Restart(t *testing.T) {
	t.Run("running_unit", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Twice()
		unit.On("Stop", mock.Anything).Return(nil).Once()
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))
		firstStart, _ := u.StartedAt()

		time.Sleep(2 * time.Millisecond)
		err := u.Restart(context.Background())

		require.NoError(t, err)
		secondStart, running := u.StartedAt()
		assert.True(t, running)
		assert.True(t, secondStart.After(firstStart))
		unit.AssertNumberOfCalls(t, "Stop", 1)
		unit.AssertNumberOfCalls(t, "Start", 2)
	})

	t.Run("failed_unit_is_started", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(fmt.Errorf("first attempt")).Once()
		unit.On("Start", mock.Anything).Return(nil).Once()
		u := createTestManagedUnit(unit)
		require.Error(t, u.Start(context.Background()))

		require.NoError(t, u.Restart(context.Background()))
		assert.True(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
	})

	t.Run("stop_failure_aborts_restart", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		unit.On("Stop", mock.Anything).Return(fmt.Errorf("stuck")).Once()
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))

		err := u.Restart(context.Background())

		require.Error(t, err)
		unit.AssertNumberOfCalls(t, "Start", 1)
		assert.True(t, u.IsRunning())
		assertStartedAtInvariant(t, u)
	})
}

func TestManagedUnit_Health(t *testing.T) {
	t.Run("stopped_unit_is_not_checked", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		u := createTestManagedUnit(unit)

		assert.False(t, u.Healthy(context.Background()))
		report := u.Status(context.Background())

		assert.False(t, report.Running)
		assert.False(t, report.Healthy)
		assert.Nil(t, report.StartedAt)
		assert.Zero(t, report.UptimeSeconds)
		unit.AssertNotCalled(t, "HealthCheck", mock.Anything)
	})

	t.Run("running_unit_is_checked", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		unit.On("HealthCheck", mock.Anything).Return(nil)
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))

		report := u.Status(context.Background())

		assert.Equal(t, domain.UnitID("queue"), report.Name)
		assert.True(t, report.Running)
		assert.True(t, report.Healthy)
		require.NotNil(t, report.StartedAt)
		assert.GreaterOrEqual(t, report.UptimeSeconds, 0.0)
		unit.AssertCalled(t, "HealthCheck", mock.Anything)
	})

	t.Run("health_fault_is_unhealthy", func(t *testing.T) {
		unit := &MockUnit{id: "queue"}
		unit.On("Start", mock.Anything).Return(nil).Once()
		unit.On("HealthCheck", mock.Anything).Run(func(args mock.Arguments) {
			panic("nil map")
		}).Return(nil)
		u := createTestManagedUnit(unit)
		require.NoError(t, u.Start(context.Background()))

		assert.False(t, u.Healthy(context.Background()))
		assert.True(t, u.IsRunning())
	})
}

func TestManagedUnit_HealthDuringRestart(t *testing.T) {
	stopping := make(chan struct{})
	release := make(chan struct{})
	unit := &MockUnit{id: "engine"}
	unit.On("Start", mock.Anything).Return(nil).Twice()
	unit.On("Stop", mock.Anything).Run(func(args mock.Arguments) {
		close(stopping)
		<-release
	}).Return(nil).Once()
	u := createTestManagedUnit(unit)
	require.NoError(t, u.Start(context.Background()))

	restarted := make(chan error, 1)
	go func() {
		restarted <- u.Restart(context.Background())
	}()
	<-stopping

	report := u.Status(context.Background())
	healthy := u.Healthy(context.Background())

	close(release)
	require.NoError(t, <-restarted)

	assert.True(t, report.Running, "stop has not completed yet")
	assert.False(t, report.Healthy)
	assert.False(t, healthy)
	unit.AssertNotCalled(t, "HealthCheck", mock.Anything)
	assertStartedAtInvariant(t, u)
}

func TestValidateUnitID(t *testing.T) {
	tests := []struct {
		id          domain.UnitID
		expectError bool
	}{
		{"cleanup_queue", false},
		{"file-input-2", false},
		{"", true},
		{"bad id", true},
		{domain.UnitID(fmt.Sprintf("%065d", 0)), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			err := ValidateUnitID(tt.id)
			if tt.expectError {
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
