// Package rpc runs the IOC's gRPC endpoint.
//
// The endpoint serves the standard grpc.health.v1.Health service. The empty
// service name reports the process itself; "ioc.primary" and "ioc.secondary"
// report whether the last image on that channel was analyzed (SERVING) or
// skipped (NOT_SERVING). Channels start NOT_SERVING until their first image.
package rpc

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/portenta/image-processing-ioc/internal/auth"
	"github.com/portenta/image-processing-ioc/internal/ioc"
)

// ServiceName returns the health service name for a channel.
func ServiceName(ch ioc.Channel) string {
	return "ioc." + string(ch)
}

// Server wraps a grpc.Server with the health service registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New builds a Server. mode, header and key configure the API key
// interceptor the same way as auth.APIKeyInterceptor.
func New(mode, header, key string) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(mode, header, key))),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, ch := range ioc.Channels {
		s.health.SetServingStatus(ServiceName(ch), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Observe updates the channel's health from a path update outcome.
func (s *Server) Observe(out ioc.Outcome) {
	st := healthpb.HealthCheckResponse_SERVING
	if out.Status != ioc.StatusAnalyzed {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName(out.Channel), st)
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("rpc: serving", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("rpc: serve: %w", err)
	}
	return nil
}

// GracefulStop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
