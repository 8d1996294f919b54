package main

import (
	"context"
	"flag"
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/scheduler"
)

// cmdStatus imprime el estado operativo: jobs del día, órdenes abiertas,
// breaker y últimos resultados.
func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	dateFlag := fs.String("date", "", "game date to inspect (YYYY-MM-DD, default today ET)")
	fs.Parse(args)

	a, err := newApp(*configPath, scheduler.ModePaper)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	date := *dateFlag
	if date == "" {
		date = domain.EasternDate(time.Now())
	}

	jobs, err := a.store.GetJobSummary(ctx, date)
	if err != nil {
		return err
	}
	a.console.PrintJobSummary(date, jobs)

	open, err := a.store.GetOpenOrderSignals(ctx, 50)
	if err == nil && len(open) > 0 {
		a.console.PrintSignals(open)
	}

	if snap, ok, err := a.store.LatestRiskSnapshot(ctx); err == nil && ok {
		a.console.PrintRisk(snap)
	}

	if results, err := a.store.GetRecentResults(ctx, 10); err == nil && len(results) > 0 {
		a.console.PrintResults(results)
	}
	return nil
}
