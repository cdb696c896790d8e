package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const (
	ServiceCredential = "agentflow.credential"
	ServiceRegistry   = "agentflow.registry"

	defaultRefreshInterval = 5 * time.Second
)

// ReadinessCheck reports whether a named service is ready to serve.
type ReadinessCheck func() bool

type Options struct {
	ListenAddress   string
	Checks          map[string]ReadinessCheck
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// Server exposes the standard gRPC health service. The overall status is
// SERVING while the server runs; each named service follows its check.
type Server struct {
	listenAddress string
	checks        map[string]ReadinessCheck
	interval      time.Duration
	logger        *zap.Logger

	health *health.Server
	ready  chan struct{}

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
	network    string
	address    string
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	checks := make(map[string]ReadinessCheck, len(opts.Checks))
	for name, check := range opts.Checks {
		if check != nil {
			checks[name] = check
		}
	}
	return &Server{
		listenAddress: opts.ListenAddress,
		checks:        checks,
		interval:      interval,
		logger:        logger.Named("rpc"),
		health:        health.NewServer(),
		ready:         make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	network, addr, err := parseListenAddress(s.listenAddress)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove rpc socket: %w", err)
		}
	}
	lis, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("listen rpc: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.Refresh()

	s.mu.Lock()
	s.grpcServer = grpcServer
	s.listener = lis
	s.network = network
	s.address = addr
	s.mu.Unlock()
	close(s.ready)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	s.logger.Info("rpc health server started", zap.String("network", network), zap.String("address", lis.Addr().String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Stop(stopCtx)
		case <-ticker.C:
			s.Refresh()
		case err := <-errCh:
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Stop(stopCtx)
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		}
	}
}

// Refresh re-evaluates every readiness check.
func (s *Server) Refresh() {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if s.checks[name]() {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	grpcServer := s.grpcServer
	listener := s.listener
	network, address := s.network, s.address
	s.grpcServer = nil
	s.mu.Unlock()
	if grpcServer == nil {
		return nil
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
		return ctx.Err()
	}

	if listener != nil {
		_ = listener.Close()
	}
	if network == "unix" && address != "" {
		_ = os.Remove(address)
	}
	return nil
}
