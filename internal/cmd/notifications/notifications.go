// Package notifications parses notifier command flags and launches the runtime.
package notifications

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/lamcalendar/notifier/internal/platform/cmd"
	platformgrpc "github.com/lamcalendar/notifier/internal/platform/grpc"
	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/app"
	"github.com/lamcalendar/notifier/internal/services/notifications/mail"
	"go.uber.org/zap"
)

// Config holds notifier command configuration.
type Config struct {
	Port                int           `env:"CALENDAR_NOTIFICATIONS_PORT" envDefault:"8091"`
	HTTPAddr            string        `env:"CALENDAR_NOTIFICATIONS_HTTP_ADDR" envDefault:":8090"`
	Store               string        `env:"CALENDAR_NOTIFICATIONS_STORE" envDefault:"sqlite"`
	DBPath              string        `env:"CALENDAR_NOTIFICATIONS_DB_PATH" envDefault:"data/calendar.db"`
	PostgresDSN         string        `env:"CALENDAR_NOTIFICATIONS_POSTGRES_DSN"`
	PollInterval        time.Duration `env:"CALENDAR_NOTIFICATIONS_POLL_INTERVAL" envDefault:"60s"`
	DispatchWorkers     int           `env:"CALENDAR_NOTIFICATIONS_DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueue       int           `env:"CALENDAR_NOTIFICATIONS_DISPATCH_QUEUE" envDefault:"256"`
	DispatchConcurrency int           `env:"CALENDAR_NOTIFICATIONS_DISPATCH_CONCURRENCY" envDefault:"1"`
	SMTPAddr            string        `env:"CALENDAR_NOTIFICATIONS_SMTP_ADDR"`
	SMTPUsername        string        `env:"CALENDAR_NOTIFICATIONS_SMTP_USERNAME"`
	SMTPPassword        string        `env:"CALENDAR_NOTIFICATIONS_SMTP_PASSWORD"`
	SMTPFrom            string        `env:"CALENDAR_NOTIFICATIONS_SMTP_FROM" envDefault:"noreply@calendar.local"`
	ClientURL           string        `env:"CALENDAR_NOTIFICATIONS_CLIENT_URL"`
	LogLevel            string        `env:"CALENDAR_NOTIFICATIONS_LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"CALENDAR_NOTIFICATIONS_LOG_FORMAT" envDefault:"json"`
	// HealthCheck probes a running notifier on Port instead of serving.
	HealthCheck bool
}

const probeTimeout = 3 * time.Second

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The notifier health gRPC server port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The trigger and push HTTP address")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Calendar directory backend (sqlite or postgres)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The calendar SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "The calendar PostgreSQL DSN")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Reminder sweep interval")
	fs.IntVar(&cfg.DispatchWorkers, "dispatch-workers", cfg.DispatchWorkers, "Reminder delivery workers")
	fs.IntVar(&cfg.DispatchQueue, "dispatch-queue", cfg.DispatchQueue, "Reminder delivery queue size")
	fs.IntVar(&cfg.DispatchConcurrency, "dispatch-concurrency", cfg.DispatchConcurrency, "Concurrent recipients per notification")
	fs.StringVar(&cfg.SMTPAddr, "smtp-addr", cfg.SMTPAddr, "SMTP relay host:port; empty logs emails instead")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", cfg.SMTPFrom, "Sender address for notification emails")
	fs.StringVar(&cfg.ClientURL, "client-url", cfg.ClientURL, "Calendar client URL shown in welcome messages")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json or console)")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe the local notifier health server and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the notifier runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(entrypoint.ServiceNotifications, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.HealthCheck {
		return Probe(ctx, cfg, logger)
	}
	options := entrypoint.RunOptions{Logger: logger}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceNotifications, options, func(ctx context.Context) error {
		return app.Run(ctx, runtimeConfig(cfg, logger))
	})
}

// Probe reports whether the notifier listening on cfg.Port is serving.
func Probe(ctx context.Context, cfg Config, logger *zap.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	return platformgrpc.Probe(ctx, addr, app.HealthService, probeTimeout, logger)
}

func runtimeConfig(cfg Config, logger *zap.Logger) app.RuntimeConfig {
	return app.RuntimeConfig{
		GRPCAddr:            fmt.Sprintf(":%d", cfg.Port),
		HTTPAddr:            cfg.HTTPAddr,
		Store:               cfg.Store,
		DBPath:              cfg.DBPath,
		PostgresDSN:         cfg.PostgresDSN,
		PollInterval:        cfg.PollInterval,
		DispatchWorkers:     cfg.DispatchWorkers,
		DispatchQueue:       cfg.DispatchQueue,
		DispatchConcurrency: cfg.DispatchConcurrency,
		SMTP: mail.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  timeouts.SMTPSend,
		},
		ClientURL: cfg.ClientURL,
		Logger:    logger,
	}
}
