package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"taskgate.dev/internal/obs"
)

// GRPCServiceName is the service reported by the health server next to the
// empty (whole server) name.
const GRPCServiceName = "taskgate.v1.API"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes store readiness through grpc.health.v1.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

// NewHealthServer creates the health service. Statuses start as NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	h := &HealthServer{Server: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Refresh checks readiness once and updates the published status.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	err := h.readiness.Check(ctx)
	if err != nil {
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return true
}

// Watch refreshes the status every interval until ctx is done, then marks
// the server as shutting down.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) set(s healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", s)
	h.SetServingStatus(GRPCServiceName, s)
}

// NewGRPCServer builds the gRPC server with the health service, reflection
// and a logging interceptor.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.Server)
	reflection.Register(srv)
	return srv
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Debug("grpc_call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return resp, err
}
