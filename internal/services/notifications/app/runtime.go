package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/api/httpapi"
	"github.com/lamcalendar/notifier/internal/services/notifications/dispatch"
	"github.com/lamcalendar/notifier/internal/services/notifications/mail"
	"github.com/lamcalendar/notifier/internal/services/notifications/push"
	"github.com/lamcalendar/notifier/internal/services/notifications/render"
	"github.com/lamcalendar/notifier/internal/services/notifications/scheduler"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage/postgres"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Store backends accepted by RuntimeConfig.Store.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const (
	defaultGRPCAddr = ":8091"
	defaultHTTPAddr = ":8090"
	defaultDBPath   = "data/calendar.db"
)

// HealthService is the gRPC health service name reported while the notifier runs.
const HealthService = "notifications.runtime"

// RuntimeConfig controls notifier startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	GRPCAddr            string
	HTTPAddr            string
	Store               string
	DBPath              string
	PostgresDSN         string
	PollInterval        time.Duration
	DispatchWorkers     int
	DispatchQueue       int
	DispatchConcurrency int
	SMTP                mail.SMTPConfig
	ClientURL           string
	Logger              *zap.Logger
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		cfg.GRPCAddr = defaultGRPCAddr
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store == "" {
		cfg.Store = StoreSQLite
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	return cfg
}

// Run starts the notifier: directory store, HTTP trigger API, gRPC health
// server and the reminder scheduler. It returns when ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	logger := cfg.Logger

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close directory store", zap.Error(closeErr))
		}
	}()

	mailer, err := newMailer(cfg.SMTP, logger)
	if err != nil {
		return err
	}
	hub := push.NewHub(push.WithLogger(logger))
	defer hub.Close()

	dispatcher := dispatch.New(mailer, hub,
		dispatch.WithLogger(logger),
		dispatch.WithConcurrency(cfg.DispatchConcurrency),
	)
	factory := render.NewFactory(render.WithClientURL(cfg.ClientURL))

	engine, err := NewEngine(store, factory, dispatcher, WithEngineLogger(logger))
	if err != nil {
		return err
	}
	sched, err := scheduler.New(store, factory, dispatcher, scheduler.Config{
		PollInterval: cfg.PollInterval,
		Workers:      cfg.DispatchWorkers,
		QueueSize:    cfg.DispatchQueue,
		DrainTimeout: timeouts.Shutdown,
	}, scheduler.WithLogger(logger))
	if err != nil {
		return err
	}
	fiberApp, err := httpapi.New(httpapi.Config{Publisher: engine, Subscriber: hub, Logger: logger})
	if err != nil {
		return err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on grpc addr %s: %w", cfg.GRPCAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := fiberApp.Listener(httpListener); err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	schedulerDone := make(chan struct{})
	group.Go(func() error {
		defer close(schedulerDone)
		return sched.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		// Drained reminders may still publish to the hub.
		<-schedulerDone
		hub.Close()
		if err := fiberApp.ShutdownWithTimeout(timeouts.Shutdown); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	logger.Info("notifications server listening",
		zap.String("http_addr", httpListener.Addr().String()),
		zap.String("grpc_addr", grpcListener.Addr().String()),
		zap.String("store", cfg.Store),
	)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(cfg RuntimeConfig) (storage.DirectoryCloser, error) {
	switch cfg.Store {
	case StoreSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite directory: %w", err)
		}
		return store, nil
	case StorePostgres:
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres directory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

func newMailer(cfg mail.SMTPConfig, logger *zap.Logger) (dispatch.Mailer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		logger.Info("smtp relay not configured, email notifications will be logged only")
		return mail.NewLogMailer(logger), nil
	}
	mailer, err := mail.NewSMTPMailer(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure smtp mailer: %w", err)
	}
	return mailer, nil
}
