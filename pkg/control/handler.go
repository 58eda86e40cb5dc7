package control

import (
	"context"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RegisterGRPCServerHandler exposes the orchestrator contract as the control
// service and the standard gRPC health service
func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&controlServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
	healthpb.RegisterHealthServer(grpcServerRegistrar, &grpcHealthHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Restart(ctx context.Context, request *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := domain.UnitID(request.GetValue())

	if err := h.handler.Restart(ctx, id); err != nil {
		h.logger.Errorf("Restart server handler, id: %s, error: %v", id, err)
		return nil, toStatusError(err)
	}

	report, err := h.handler.Status(ctx, id)
	if err != nil {
		h.logger.Errorf("Restart server handler, id: %s, error: %v", id, err)
		return nil, toStatusError(err)
	}

	h.logger.Debugf("Restart server handler done, id: %s", id)
	return toStruct(report)
}

func (h *grpcServerHandler) Status(ctx context.Context, request *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := domain.UnitID(request.GetValue())

	report, err := h.handler.Status(ctx, id)
	if err != nil {
		h.logger.Errorf("Status server handler, id: %s, error: %v", id, err)
		return nil, toStatusError(err)
	}

	h.logger.Debugf("Status server handler done, id: %s", id)
	return toStruct(report)
}

func (h *grpcServerHandler) Aggregate(ctx context.Context, request *emptypb.Empty) (*structpb.Struct, error) {
	aggregate := h.handler.AggregateStatus(ctx)
	h.logger.Debugf("Aggregate server handler done, status: %s", aggregate.Health.Status)
	return toStruct(aggregate)
}

// grpcHealthHandler answers grpc.health.v1 checks: the empty service name
// reflects readiness, a unit ID reflects that unit's health
type grpcHealthHandler struct {
	healthpb.UnimplementedHealthServer
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcHealthHandler) Check(ctx context.Context, request *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	service := request.GetService()

	if service == "" {
		aggregate := h.handler.AggregateStatus(ctx)
		return servingResponse(aggregate.Health.Status == domain.HealthStatusRunning), nil
	}

	report, err := h.handler.Status(ctx, domain.UnitID(service))
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, status.Errorf(codes.NotFound, "unknown service: %s", service)
		}
		return nil, toStatusError(err)
	}
	return servingResponse(report.Healthy), nil
}

func servingResponse(serving bool) *healthpb.HealthCheckResponse {
	if serving {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
}
