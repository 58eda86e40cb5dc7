package control

import (
	"context"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Gateway is the client side of the control service
type Gateway interface {
	Restart(ctx context.Context, id domain.UnitID) (domain.StatusReport, error)
	Status(ctx context.Context, id domain.UnitID) (domain.StatusReport, error)
	Aggregate(ctx context.Context) (domain.AggregateStatus, error)
	// Ready checks the gRPC health service; an empty id checks readiness
	Ready(ctx context.Context, id domain.UnitID) (bool, error)
}

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) Gateway {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		health: healthpb.NewHealthClient(grpcClientConnection),
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
	logger logging.Logger
}

func (gw *grpcClientGateway) Restart(ctx context.Context, id domain.UnitID) (domain.StatusReport, error) {
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, restartMethod, wrapperspb.String(string(id)), response); err != nil {
		gw.logger.Errorf("Restart client gateway, id: %s, error: %v", id, err)
		return domain.StatusReport{}, fromStatusError(err)
	}

	var report domain.StatusReport
	if err := fromStruct(response, &report); err != nil {
		return domain.StatusReport{}, errors.NewInternalError("failed to decode status report", err)
	}
	gw.logger.Debugf("Restart client gateway done, id: %s", id)
	return report, nil
}

func (gw *grpcClientGateway) Status(ctx context.Context, id domain.UnitID) (domain.StatusReport, error) {
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, statusMethod, wrapperspb.String(string(id)), response); err != nil {
		gw.logger.Errorf("Status client gateway, id: %s, error: %v", id, err)
		return domain.StatusReport{}, fromStatusError(err)
	}

	var report domain.StatusReport
	if err := fromStruct(response, &report); err != nil {
		return domain.StatusReport{}, errors.NewInternalError("failed to decode status report", err)
	}
	gw.logger.Debugf("Status client gateway done, id: %s", id)
	return report, nil
}

func (gw *grpcClientGateway) Aggregate(ctx context.Context) (domain.AggregateStatus, error) {
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, aggregateMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Aggregate client gateway: %v", err)
		return domain.AggregateStatus{}, fromStatusError(err)
	}

	var aggregate domain.AggregateStatus
	if err := fromStruct(response, &aggregate); err != nil {
		return domain.AggregateStatus{}, errors.NewInternalError("failed to decode aggregate status", err)
	}
	gw.logger.Debugf("Aggregate client gateway done")
	return aggregate, nil
}

func (gw *grpcClientGateway) Ready(ctx context.Context, id domain.UnitID) (bool, error) {
	response, err := gw.health.Check(ctx, &healthpb.HealthCheckRequest{Service: string(id)})
	if err != nil {
		gw.logger.Errorf("Ready client gateway, id: %s, error: %v", id, err)
		return false, fromStatusError(err)
	}
	return response.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
