package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/alejandrodnm/courtbot/internal/scheduler"
	"github.com/alejandrodnm/courtbot/internal/settlement"
)

// cmdSettle fuerza una pasada de liquidación fuera del tick.
func cmdSettle(args []string) error {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	fs.Parse(args)

	a, err := newApp(*configPath, scheduler.ModePaper)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settler := settlement.New(a.store, a.games, a.market, a.notifier, slog.Default())
	sum, err := settler.Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("settlement pass",
		"settled", sum.Settled, "wins", sum.Wins, "losses", sum.Losses,
		"skipped", sum.Skipped, "pnl_usd", sum.PnLUSD)

	results, err := a.store.GetRecentResults(ctx, 20)
	if err == nil && len(results) > 0 {
		a.console.PrintResults(results)
	}
	return nil
}
