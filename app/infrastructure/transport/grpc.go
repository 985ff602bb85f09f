package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// CacheServiceName is the health service name that reports cache availability.
// The empty service name reports overall process health.
const CacheServiceName = "ghctx.cache"

type healthServer struct {
	healthpb.UnimplementedHealthServer
	api ContextAPI
}

func NewHealthServer(api ContextAPI) healthpb.HealthServer {
	return &healthServer{api: api}
}

// Check always reports the process as serving; the cache service reports
// NOT_SERVING while the backing store is unreachable.
func (s *healthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "":
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	case CacheServiceName:
		if s.api.Health(ctx).Available {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
		}
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
}

func NewgRPCServer(api ContextAPI) *grpc.Server {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, NewHealthServer(api))
	reflection.Register(s)
	return s
}

// StartgRPCServer serves on addr until ctx is done, then stops gracefully.
func StartgRPCServer(ctx context.Context, s *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer lis.Close()

	errCh := make(chan error, 1)

	go func() {
		logrus.Infof("[gRPC] listening on %s", addr)
		if err := s.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logrus.Info("[gRPC] context canceled, shutting down gracefully...")
		s.GracefulStop()
	case err := <-errCh:
		logrus.Errorf("[gRPC] server error: %v", err)
		return err
	}
	return nil
}
