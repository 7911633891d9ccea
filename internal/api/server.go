package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/events"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CalendarHealthService is the health service name that follows calendar
// reachability. The empty service name always reports SERVING while the
// process is up.
const CalendarHealthService = "booking_pal.calendar"

type GRPCServer struct {
	cfg      *config.APIConfig
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return newGRPCServer(cfg, lis, logger), nil
}

func newGRPCServer(cfg *config.APIConfig, lis net.Listener, logger *zerolog.Logger) *GRPCServer {
	auth := NewAuthInterceptor(cfg)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(CalendarHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "grpc").Logger()
	}

	return &GRPCServer{
		cfg:      cfg,
		server:   grpcServer,
		health:   healthServer,
		listener: lis,
		log:      serverLogger,
	}
}

// SetCalendarReachable updates the calendar health status.
func (s *GRPCServer) SetCalendarReachable(online bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(CalendarHealthService, st)
}

// Subscribe keeps the calendar health status in step with connectivity
// events.
func (s *GRPCServer) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventOnline, func(*events.Event) error {
		s.SetCalendarReachable(true)
		return nil
	})
	bus.Subscribe(events.EventOffline, func(*events.Event) error {
		s.SetCalendarReachable(false)
		return nil
	})
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	}
}
