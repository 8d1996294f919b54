package main

import (
	"context"
	"flag"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/courtbot/internal/ordermgr"
	"github.com/alejandrodnm/courtbot/internal/scheduler"
)

// cmdOrders corre una pasada manual del ciclo de órdenes. Útil entre ticks
// cuando hay órdenes descansando y el mercado se mueve rápido.
func cmdOrders(args []string) error {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	fs.Parse(args)

	// Solo live tiene órdenes reales que reconciliar.
	a, err := newApp(*configPath, scheduler.ModeLive)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr := ordermgr.NewManager(a.store, a.market, a.cfg.Orders, a.cfg.Bothside, slog.Default())
	sum, err := mgr.Tick(ctx)
	if err != nil {
		return err
	}

	slog.Info("order lifecycle pass",
		"checked", sum.Checked, "filled", sum.Filled, "partial", sum.Partial,
		"replaced", sum.Replaced, "cancelled", sum.Cancelled,
		"expired", sum.Expired, "errors", sum.Errors)
	return nil
}
