// Package grpc holds gRPC health helpers shared by the notifier process.
package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthCallTimeout = time.Second
	initialBackoff    = 200 * time.Millisecond
	maxBackoff        = time.Second
)

// WaitForHealth blocks until the health service reports SERVING for service
// or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logger *zap.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger = logging.OrNop(logger)

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := initialBackoff
	for {
		callCtx, cancel := context.WithTimeout(ctx, healthCallTimeout)
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			logger.Debug("grpc health serving", zap.String("service", service))
			return nil
		}
		if err != nil {
			logger.Debug("waiting for grpc health", zap.String("service", service), zap.Error(err))
		} else {
			logger.Debug("waiting for grpc health", zap.String("service", service), zap.Stringer("status", response.GetStatus()))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
