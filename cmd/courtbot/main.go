package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alejandrodnm/courtbot/config"
	"github.com/alejandrodnm/courtbot/internal/adapters/nba"
	"github.com/alejandrodnm/courtbot/internal/adapters/notify"
	"github.com/alejandrodnm/courtbot/internal/adapters/onchain"
	"github.com/alejandrodnm/courtbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/courtbot/internal/adapters/storage"
	"github.com/alejandrodnm/courtbot/internal/calibration"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
	"github.com/alejandrodnm/courtbot/internal/scheduler"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "tick":
		err = cmdTick(args)
	case "orders":
		err = cmdOrders(args)
	case "settle":
		err = cmdSettle(args)
	case "status":
		err = cmdStatus(args)
	case "ack":
		err = cmdAck(args)
	case "watchdog":
		err = cmdWatchdog(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `courtbot — autonomous NBA prediction-market trader

Usage:
  courtbot <command> [flags]

Commands:
  tick      run one scheduler tick (discovery, dispatch, DCA, merges, settlement)
  orders    run one order-lifecycle pass (fills, requotes, expiries)
  settle    settle resolved games and print results
  status    print jobs, open orders and risk state
  ack       acknowledge the latest RED circuit-breaker transition
  watchdog  alert when the tick heartbeat goes stale

Run 'courtbot <command> -h' for the command's flags.
`)
}

// app agrupa las dependencias compartidas por todos los comandos.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStore
	market   ports.MarketClient
	games    ports.GameProvider
	merger   ports.MergeExecutor // nil fuera de live
	console  *notify.Console
	notifier ports.Notifier
	curve    *calibration.Curve
}

// newApp carga config y construye el stack según el modo. En live la clave
// privada viene solo de WALLET_PRIVATE_KEY; los modos de papel usan el
// cliente público de solo lectura.
func newApp(configPath string, mode scheduler.Mode) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	curve, err := calibration.Load(cfg.Calibration.ArtifactPath, cfg.Calibration.ConfidenceLevel)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load calibration curve: %w", err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		games:   nba.NewClient(cfg.API.NBABase),
		console: notify.NewConsole(),
		curve:   curve,
	}

	a.notifier = a.console
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		a.notifier = notify.NewMulti(a.console, notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID))
	}

	if mode != scheduler.ModeLive {
		a.market = polymarket.NewReadOnly(cfg.API.CLOBBase, cfg.API.GammaBase)
		return a, nil
	}

	if cfg.Wallet.PrivateKey == "" {
		store.Close()
		return nil, fmt.Errorf("live mode requires WALLET_PRIVATE_KEY")
	}
	kind := domain.WalletKind(cfg.Wallet.Kind)
	if kind == "" {
		kind = domain.WalletEOA
	}

	auth, err := polymarket.NewAuthClient(
		cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Wallet.PrivateKey, kind, cfg.Wallet.ProxyAddress)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("auth client: %w", err)
	}
	trading, err := polymarket.NewTradingClient(auth, cfg.API.RPCURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("trading client: %w", err)
	}
	a.market = trading

	switch kind {
	case domain.WalletProxy:
		a.merger, err = onchain.NewSafeMergeClient(cfg.API.RPCURL, cfg.Wallet.PrivateKey, cfg.Wallet.ProxyAddress)
	default:
		a.merger, err = onchain.NewMergeClient(cfg.API.RPCURL, cfg.Wallet.PrivateKey)
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("merge client: %w", err)
	}

	slog.Info("live stack ready", "wallet", kind, "address", auth.Address())
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func parseMode(s string) (scheduler.Mode, error) {
	switch scheduler.Mode(s) {
	case scheduler.ModeLive, scheduler.ModePaper, scheduler.ModeDryRun:
		return scheduler.Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (want dry-run, paper or live)", s)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
