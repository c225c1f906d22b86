package node

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// HealthService is the gRPC service name reported by the node.
const HealthService = "roomsense.node"

// GrpcHealth exposes the standard gRPC health protocol, SERVING while the
// node is connected.
type GrpcHealth struct {
	srv    *grpc.Server
	health *health.Server
	conn   ConnState
	every  time.Duration
	log    *slog.Logger
}

func NewGrpcHealth(conn ConnState, log *slog.Logger) *GrpcHealth {
	g := &GrpcHealth{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		conn:   conn,
		every:  5 * time.Second,
		log:    logging.Or(log).With("component", "grpc-health"),
	}
	healthpb.RegisterHealthServer(g.srv, g.health)
	g.update()
	return g
}

func (g *GrpcHealth) update() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if g.conn.Connected() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(HealthService, st)
}

// Serve blocks until ctx is cancelled or the listener fails.
func (g *GrpcHealth) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		t := time.NewTicker(g.every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.srv.GracefulStop()
				return
			case <-t.C:
				g.update()
			}
		}
	}()
	g.log.Info("listening", "addr", lis.Addr().String())
	return g.srv.Serve(lis)
}
