// Package control exposes the orchestrator to operators over gRPC, on top of
// the hsu-core server.
package control

import (
	"context"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/errors"
	"github.com/core-tools/hsu-satellite/pkg/logging"
)

const Name = "control"

type ServerOptions struct {
	Port int
}

type Server struct {
	options ServerOptions
	server  coreControl.Server
	logger  logging.Logger
}

func NewServer(options ServerOptions, handler domain.Contract, coreLogger coreLogging.Logger, logger logging.Logger) (*Server, error) {
	serverOptions := coreControl.ServerOptions{
		Port: options.Port,
	}

	server, err := coreControl.NewServer(serverOptions, coreLogger)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create control server", err).WithContext("port", options.Port)
	}

	// Register core services
	coreHandler := coreDomain.NewDefaultHandler(coreLogger)
	coreControl.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	// Register satellite services
	RegisterGRPCServerHandler(server.GRPC(), handler, logger)

	return &Server{
		options: options,
		server:  server,
		logger:  logger,
	}, nil
}

func (s *Server) Name() string {
	return Name
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting control server, port: %d", s.options.Port)
	s.server.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("Stopping control server, port: %d", s.options.Port)
	s.server.Shutdown(ctx)
	return nil
}
