package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestProbeServing(t *testing.T) {
	t.Parallel()

	fixture := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	if err := Probe(context.Background(), fixture.addr, "", time.Second, nil); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeReportsHealthStage(t *testing.T) {
	t.Parallel()

	fixture := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	start := time.Now()
	err := Probe(context.Background(), fixture.addr, "", 150*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("expected ProbeError, got %T", err)
	}
	if probeErr.Stage != ProbeStageHealth {
		t.Fatalf("stage = %q, want %q", probeErr.Stage, ProbeStageHealth)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected timeout to bound probe, took %v", elapsed)
	}
}

func TestProbeReportsConnectStage(t *testing.T) {
	err := Probe(context.Background(), "bad\x00target://", "", 100*time.Millisecond, nil)
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("expected ProbeError, got %T (%v)", err, err)
	}
}

func TestProbeErrorFormatting(t *testing.T) {
	wrapped := &ProbeError{Stage: ProbeStageConnect, Err: fmt.Errorf("boom")}
	if !strings.Contains(wrapped.Error(), "gRPC connect") {
		t.Fatalf("unexpected error: %s", wrapped.Error())
	}
	if wrapped.Unwrap() == nil {
		t.Fatal("expected wrapped error")
	}

	var nilErr *ProbeError
	if nilErr.Error() == "" {
		t.Fatal("expected fallback error message")
	}
	if nilErr.Unwrap() != nil {
		t.Fatal("expected nil unwrap for nil error")
	}
}
