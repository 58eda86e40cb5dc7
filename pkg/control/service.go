package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/core-tools/hsu-satellite/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "hsu.satellite.control.v1.ControlService"

const (
	restartMethod   = "/" + ServiceName + "/Restart"
	statusMethod    = "/" + ServiceName + "/Status"
	aggregateMethod = "/" + ServiceName + "/Aggregate"
)

// controlServiceServer is the server API for the control service
type controlServiceServer interface {
	Restart(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Aggregate(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*controlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Restart",
			Handler:    restartHandler,
		},
		{
			MethodName: "Status",
			Handler:    statusHandler,
		},
		{
			MethodName: "Aggregate",
			Handler:    aggregateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/satellite/control/v1/control.proto",
}

func restartHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServiceServer).Restart(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: restartMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(controlServiceServer).Restart(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: statusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(controlServiceServer).Status(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func aggregateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(controlServiceServer).Aggregate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: aggregateMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(controlServiceServer).Aggregate(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// toStruct converts a JSON-tagged value into a protobuf Struct
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// fromStruct is the inverse of toStruct
func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return fmt.Errorf("empty response")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toStatusError maps domain errors onto gRPC status codes
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.IsNotFoundError(err):
		code = codes.NotFound
	case errors.IsValidationError(err):
		code = codes.InvalidArgument
	case errors.IsTimeoutError(err):
		code = codes.DeadlineExceeded
	case errors.IsCancelledError(err):
		code = codes.Canceled
	case errors.IsLifecycleError(err):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}

// fromStatusError maps gRPC status codes back onto domain errors
func fromStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("control call failed", err)
	}
	switch st.Code() {
	case codes.NotFound:
		return errors.NewNotFoundError(st.Message(), err)
	case codes.InvalidArgument:
		return errors.NewValidationError(st.Message(), err)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError(st.Message(), err)
	case codes.Canceled:
		return errors.NewCancelledError(st.Message(), err)
	case codes.FailedPrecondition:
		return errors.NewLifecycleError(st.Message(), err)
	case codes.Unavailable:
		return errors.NewNetworkError(st.Message(), err)
	default:
		return errors.NewInternalError(st.Message(), err)
	}
}
