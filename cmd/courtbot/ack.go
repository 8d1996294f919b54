package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/scheduler"
)

// cmdAck reconoce la última transición a RED. Sin el ack el breaker nunca
// baja de RED, pase el tiempo que pase.
func cmdAck(args []string) error {
	fs := flag.NewFlagSet("ack", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	fs.Parse(args)

	a, err := newApp(*configPath, scheduler.ModePaper)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	ev, found, err := a.store.LastBreakerTransition(ctx, domain.RiskRed)
	if err != nil {
		return err
	}
	if !found {
		slog.Info("no RED breaker transition to acknowledge")
		return nil
	}
	if ev.Acked {
		slog.Info("latest RED transition already acknowledged",
			"reason", ev.Reason, "at", ev.CreatedAt)
		return nil
	}

	if err := a.store.AckBreaker(ctx, ev.ID); err != nil {
		return err
	}
	slog.Info("RED breaker transition acknowledged",
		"reason", ev.Reason, "at", ev.CreatedAt)
	return nil
}
