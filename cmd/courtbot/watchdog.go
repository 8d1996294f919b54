package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/courtbot/internal/scheduler"
)

// cmdWatchdog comprueba el heartbeat del tick y alerta si el bot lleva
// demasiado callado. Pensado para correr desde un cron independiente.
func cmdWatchdog(args []string) error {
	fs := flag.NewFlagSet("watchdog", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	maxAge := fs.Duration("max-age", 35*time.Minute, "heartbeat age that triggers an alert")
	fs.Parse(args)

	a, err := newApp(*configPath, scheduler.ModePaper)
	if err != nil {
		return err
	}
	defer a.Close()

	lc := scheduler.NewLifecycle(a.cfg.Storage.DataDir)
	age := lc.HeartbeatAge()
	if age <= *maxAge {
		slog.Info("heartbeat healthy", "age", age.Round(time.Second))
		return nil
	}

	msg := fmt.Sprintf("tick heartbeat stale: last beat %s ago (limit %s)",
		age.Round(time.Minute), maxAge)
	slog.Error("heartbeat stale", "age", age.Round(time.Second), "limit", *maxAge)
	_ = a.notifier.Alert(context.Background(), msg)
	return nil
}
