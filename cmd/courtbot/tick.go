package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/courtbot/internal/adapters/onchain"
	"github.com/alejandrodnm/courtbot/internal/ordermgr"
	"github.com/alejandrodnm/courtbot/internal/risk"
	"github.com/alejandrodnm/courtbot/internal/scheduler"
	"github.com/alejandrodnm/courtbot/internal/settlement"
)

// cmdTick ejecuta un tick completo: descubrimiento, dispatch, DCA, merges,
// ciclo de órdenes y liquidación. El heartbeat lo invoca periódicamente;
// el lock de instancia única hace que los solapes sean inofensivos.
func cmdTick(args []string) error {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	modeFlag := fs.String("mode", "paper", "execution mode: dry-run|paper|live")
	dateFlag := fs.String("date", "", "override the trading date (YYYY-MM-DD, US Eastern)")
	noSettle := fs.Bool("no-settle", false, "skip the settlement pass")
	fs.Parse(args)

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return err
	}

	a, err := newApp(*configPath, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lc := scheduler.NewLifecycle(a.cfg.Storage.DataDir)
	if err := lc.CheckStop(); err != nil {
		slog.Warn("STOP file present, tick skipped")
		return nil
	}
	if err := lc.Acquire(); errors.Is(err, scheduler.ErrLocked) {
		slog.Warn("another instance holds the lock, tick skipped")
		return nil
	} else if err != nil {
		return err
	}
	defer lc.Release()
	if err := lc.Heartbeat(); err != nil {
		slog.Warn("heartbeat write failed", "err", err)
	}

	if mode == scheduler.ModeLive {
		if mc, ok := a.merger.(*onchain.MergeClient); ok {
			if err := mc.EnsureApprovals(ctx); err != nil {
				return fmt.Errorf("on-chain approvals: %w", err)
			}
		}
	}

	engine := risk.NewEngine(a.store, a.notifier, a.cfg.Risk, slog.Default())
	sched := scheduler.New(a.store, a.market, a.games, a.merger, engine,
		a.curve, a.notifier, a.cfg, mode, slog.Default())

	if *dateFlag != "" {
		day, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			return fmt.Errorf("bad -date: %w", err)
		}
		// Mediodía ET para que la fecha Eastern del tick sea la pedida.
		at := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, time.UTC)
		sched = sched.WithClock(func() time.Time { return at })
	}

	sum, err := sched.RunTick(ctx)
	if err != nil {
		return err
	}

	// Las órdenes reales descansando en el book se reconcilian cada tick;
	// en papel los fills son inmediatos y no hay nada que vigilar.
	if mode == scheduler.ModeLive {
		mgr := ordermgr.NewManager(a.store, a.market, a.cfg.Orders, a.cfg.Bothside, slog.Default())
		osum, err := mgr.Tick(ctx)
		if err != nil {
			slog.Warn("order lifecycle pass failed", "err", err)
		} else {
			slog.Info("order lifecycle pass",
				"checked", osum.Checked, "filled", osum.Filled, "partial", osum.Partial,
				"replaced", osum.Replaced, "cancelled", osum.Cancelled,
				"expired", osum.Expired, "errors", osum.Errors)
		}
	}

	if !*noSettle {
		settler := settlement.New(a.store, a.games, a.market, a.notifier, slog.Default())
		if _, err := settler.Run(ctx); err != nil {
			slog.Warn("settlement pass failed", "err", err)
		}
	}

	jobs, err := a.store.GetJobSummary(ctx, sum.Date)
	if err == nil {
		a.console.PrintJobSummary(sum.Date, jobs)
	}
	return nil
}
