// Package healthcheck exposes the standard gRPC health protocol so
// orchestrators can probe every service the same way.
package healthcheck

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger *slog.Logger
}

// Listen binds the port but does not serve yet. The overall status starts
// NOT_SERVING until MarkServing is called.
func Listen(port string, logger *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	return &Server{grpc: grpcServer, health: hs, lis: lis, logger: logger}, nil
}

func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

func (s *Server) Serve() error {
	s.logger.Info("health server listening", slog.String("addr", s.lis.Addr().String()))
	return s.grpc.Serve(s.lis)
}

func (s *Server) MarkServing(services ...string) {
	s.setStatus(healthpb.HealthCheckResponse_SERVING, services)
}

func (s *Server) MarkNotServing(services ...string) {
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING, services)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus, services []string) {
	s.health.SetServingStatus("", status)
	for _, name := range services {
		s.health.SetServingStatus(name, status)
	}
}

// Stop flips every status to NOT_SERVING and drains in-flight probes.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
