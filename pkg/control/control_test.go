package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// MockContract is a mock implementation of domain.Contract for testing
type MockContract struct {
	mock.Mock
}

func (m *MockContract) AggregateStatus(ctx context.Context) domain.AggregateStatus {
	args := m.Called(ctx)
	return args.Get(0).(domain.AggregateStatus)
}

func (m *MockContract) Status(ctx context.Context, id domain.UnitID) (domain.StatusReport, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.StatusReport), args.Error(1)
}

func (m *MockContract) Restart(ctx context.Context, id domain.UnitID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func createTestGateway(t *testing.T, contract domain.Contract) Gateway {
	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	RegisterGRPCServerHandler(server, contract, logging.NewNopLogger())

	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewGRPCClientGateway(conn, logging.NewNopLogger())
}

func runningReport(id domain.UnitID) domain.StatusReport {
	startedAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return domain.StatusReport{
		Name:          id,
		Running:       true,
		Healthy:       true,
		StartedAt:     &startedAt,
		UptimeSeconds: 42,
	}
}

func TestGateway_Status(t *testing.T) {
	contract := &MockContract{}
	contract.On("Status", mock.Anything, domain.UnitID("picture_engine")).Return(runningReport("picture_engine"), nil)
	gateway := createTestGateway(t, contract)

	report, err := gateway.Status(context.Background(), "picture_engine")

	require.NoError(t, err)
	assert.Equal(t, domain.UnitID("picture_engine"), report.Name)
	assert.True(t, report.Running)
	assert.True(t, report.Healthy)
	require.NotNil(t, report.StartedAt)
	assert.True(t, report.StartedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 42.0, report.UptimeSeconds)
}

func TestGateway_StatusStoppedUnit(t *testing.T) {
	contract := &MockContract{}
	contract.On("Status", mock.Anything, domain.UnitID("cleanup_queue")).Return(domain.StatusReport{Name: "cleanup_queue"}, nil)
	gateway := createTestGateway(t, contract)

	report, err := gateway.Status(context.Background(), "cleanup_queue")

	require.NoError(t, err)
	assert.False(t, report.Running)
	assert.False(t, report.Healthy)
	assert.Nil(t, report.StartedAt)
}

func TestGateway_StatusNotFound(t *testing.T) {
	contract := &MockContract{}
	contract.On("Status", mock.Anything, domain.UnitID("ghost")).
		Return(domain.StatusReport{}, errors.NewNotFoundError("unit not found", nil))
	gateway := createTestGateway(t, contract)

	_, err := gateway.Status(context.Background(), "ghost")

	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGateway_Restart(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		contract := &MockContract{}
		contract.On("Restart", mock.Anything, domain.UnitID("output_manager")).Return(nil).Once()
		contract.On("Status", mock.Anything, domain.UnitID("output_manager")).Return(runningReport("output_manager"), nil).Once()
		gateway := createTestGateway(t, contract)

		report, err := gateway.Restart(context.Background(), "output_manager")

		require.NoError(t, err)
		assert.True(t, report.Running)
		contract.AssertExpectations(t)
	})

	t.Run("lifecycle failure", func(t *testing.T) {
		contract := &MockContract{}
		contract.On("Restart", mock.Anything, domain.UnitID("output_manager")).
			Return(errors.NewLifecycleError("failed to start unit", nil)).Once()
		gateway := createTestGateway(t, contract)

		_, err := gateway.Restart(context.Background(), "output_manager")

		require.Error(t, err)
		assert.True(t, errors.IsLifecycleError(err))
		contract.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		contract := &MockContract{}
		contract.On("Restart", mock.Anything, domain.UnitID("ghost")).
			Return(errors.NewNotFoundError("unit not found", nil)).Once()
		gateway := createTestGateway(t, contract)

		_, err := gateway.Restart(context.Background(), "ghost")

		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestGateway_Aggregate(t *testing.T) {
	startup := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	contract := &MockContract{}
	contract.On("AggregateStatus", mock.Anything).Return(domain.AggregateStatus{
		Health: domain.AggregateHealth{
			Status:          domain.HealthStatusPartial,
			ComponentsReady: 2,
			TotalComponents: 3,
			StartupTime:     startup,
		},
		Units: map[domain.UnitID]domain.StatusReport{
			"a": runningReport("a"),
			"b": {Name: "b"},
		},
		UptimeSeconds: 3600,
	})
	gateway := createTestGateway(t, contract)

	aggregate, err := gateway.Aggregate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusPartial, aggregate.Health.Status)
	assert.Equal(t, 2, aggregate.Health.ComponentsReady)
	assert.Equal(t, 3, aggregate.Health.TotalComponents)
	assert.True(t, aggregate.Health.StartupTime.Equal(startup))
	assert.Len(t, aggregate.Units, 2)
	assert.False(t, aggregate.Units["b"].Running)
	assert.Equal(t, 3600.0, aggregate.UptimeSeconds)
}

func TestGateway_Ready(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.HealthStatus
		expected bool
	}{
		{"running", domain.HealthStatusRunning, true},
		{"partial", domain.HealthStatusPartial, false},
		{"stopped", domain.HealthStatusStopped, false},
		{"initializing", domain.HealthStatusInitializing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contract := &MockContract{}
			contract.On("AggregateStatus", mock.Anything).Return(domain.AggregateStatus{
				Health: domain.AggregateHealth{Status: tt.status},
			})
			gateway := createTestGateway(t, contract)

			ready, err := gateway.Ready(context.Background(), "")

			require.NoError(t, err)
			assert.Equal(t, tt.expected, ready)
		})
	}
}

func TestGateway_ReadyPerUnit(t *testing.T) {
	contract := &MockContract{}
	contract.On("Status", mock.Anything, domain.UnitID("a")).Return(runningReport("a"), nil)
	contract.On("Status", mock.Anything, domain.UnitID("b")).Return(domain.StatusReport{Name: "b"}, nil)
	contract.On("Status", mock.Anything, domain.UnitID("ghost")).
		Return(domain.StatusReport{}, errors.NewNotFoundError("unit not found", nil))
	gateway := createTestGateway(t, contract)
	ctx := context.Background()

	ready, err := gateway.Ready(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = gateway.Ready(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = gateway.Ready(ctx, "ghost")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestToStatusError(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{errors.NewNotFoundError("x", nil), errors.IsNotFoundError},
		{errors.NewValidationError("x", nil), errors.IsValidationError},
		{errors.NewTimeoutError("x", nil), errors.IsTimeoutError},
		{errors.NewCancelledError("x", nil), errors.IsCancelledError},
		{errors.NewLifecycleError("x", nil), errors.IsLifecycleError},
		{errors.NewIOError("x", nil), errors.IsInternalError},
	}

	for _, tt := range tests {
		assert.True(t, tt.check(fromStatusError(toStatusError(tt.err))), tt.err.Error())
	}
	assert.NoError(t, toStatusError(nil))
}
