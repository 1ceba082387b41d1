// Package main starts the calendar notifier process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	notificationscmd "github.com/lamcalendar/notifier/internal/cmd/notifications"
	"github.com/lamcalendar/notifier/internal/platform/config"
)

func main() {
	cfg, err := notificationscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := notificationscmd.Run(ctx, cfg); err != nil {
		config.Exitf("notifier: %v", err)
	}
}
