package scheduler

// El scheduler es el corazón del bot: cada tick descubre los juegos del
// día, recupera jobs colgados, expira ventanas cerradas, evalúa el circuit
// breaker y despacha los jobs elegibles con un CAS por fila para que cada
// juego se ejecute como mucho una vez.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/courtbot/config"
	"github.com/alejandrodnm/courtbot/internal/calibration"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
	"github.com/alejandrodnm/courtbot/internal/risk"
)

// Mode selecciona cuánto toca el mundo real un tick.
type Mode string

const (
	ModeLive   Mode = "live"
	ModePaper  Mode = "paper"   // fills simulados, persistencia completa
	ModeDryRun Mode = "dry-run" // evalúa y loguea, no escribe señales
)

// Scheduler orquesta un tick completo.
type Scheduler struct {
	store    ports.Store
	market   ports.MarketClient
	games    ports.GameProvider
	merger   ports.MergeExecutor // nil cuando el wallet no soporta merges
	risk     *risk.Engine
	curve    *calibration.Curve
	notifier ports.Notifier
	cfg      *config.Config
	mode     Mode
	log      *slog.Logger

	now func() time.Time
}

// New crea el scheduler. merger puede ser nil; entonces los pares nunca se
// funden on-chain (en paper se simulan igualmente).
func New(
	store ports.Store,
	market ports.MarketClient,
	games ports.GameProvider,
	merger ports.MergeExecutor,
	riskEngine *risk.Engine,
	curve *calibration.Curve,
	notifier ports.Notifier,
	cfg *config.Config,
	mode Mode,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		market:   market,
		games:    games,
		merger:   merger,
		risk:     riskEngine,
		curve:    curve,
		notifier: notifier,
		cfg:      cfg,
		mode:     mode,
		log:      log.With("component", "scheduler"),
		now:      time.Now,
	}
}

// WithClock fija la fuente de tiempo del scheduler. Lo usan los backfills
// con --date y los tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// TickSummary es el resultado agregado de un tick.
type TickSummary struct {
	Date       string
	Discovered int
	Recovered  int
	Expired    int
	Claimed    int
	Placed     int // órdenes nuevas, limitadas por max_orders_per_tick
	Skipped    int
	Failed     int
	Held       int // jobs devueltos a pending para reintentar
	DCAOrders  int
	Merges     int
	Level      domain.RiskLevel
	Multiplier float64
}

// RunTick ejecuta las fases del tick en orden. Los fallos por-fase se
// registran y el tick continúa; solo un store roto aborta.
func (s *Scheduler) RunTick(ctx context.Context) (TickSummary, error) {
	sum := TickSummary{Date: domain.EasternDate(s.now())}

	discovered, err := s.discoverGames(ctx, sum.Date)
	if err != nil {
		s.log.Warn("discovery failed, trading continues on known jobs", "err", err)
	}
	sum.Discovered = discovered

	sum.Recovered = s.recoverExecuting(ctx)

	expired, err := s.store.ExpireStaleJobs(ctx, s.now())
	if err != nil {
		return sum, fmt.Errorf("scheduler.RunTick: expire: %w", err)
	}
	sum.Expired = expired

	bankroll, err := s.bankroll(ctx)
	if err != nil {
		return sum, fmt.Errorf("scheduler.RunTick: bankroll: %w", err)
	}

	assessment := s.risk.Assess(ctx, bankroll)
	sum.Level = assessment.Level
	sum.Multiplier = assessment.Multiplier

	s.dispatch(ctx, bankroll, assessment, &sum)
	s.runDCA(ctx, assessment, &sum)
	s.runMerges(ctx, &sum)

	s.log.Info("tick complete",
		"date", sum.Date,
		"discovered", sum.Discovered,
		"recovered", sum.Recovered,
		"expired", sum.Expired,
		"claimed", sum.Claimed,
		"placed", sum.Placed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"held", sum.Held,
		"dca_orders", sum.DCAOrders,
		"merges", sum.Merges,
		"level", sum.Level,
		"multiplier", sum.Multiplier,
	)
	return sum, nil
}

// discoverGames upserts a directional job for every game of the ET date not
// yet final or postponed. Hedge jobs are created later, by the directional
// executor, once there is a leg to hedge.
func (s *Scheduler) discoverGames(ctx context.Context, date string) (int, error) {
	games, err := s.games.GamesForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("games for %s: %w", date, err)
	}

	inserted := 0
	for _, g := range games {
		if g.IsFinal() || g.IsPostponed() || g.Status == domain.GameInProgress {
			continue
		}
		slug := domain.BuildEventSlug(g.AwayTeam, g.HomeTeam, date)
		if slug == "" {
			s.log.Warn("discovery: bad team codes", "away", g.AwayTeam, "home", g.HomeTeam)
			continue
		}

		window := time.Duration(s.cfg.Schedule.WindowHours) * time.Hour
		ok, err := s.store.UpsertTradeJob(ctx, domain.TradeJob{
			GameDate:      date,
			EventSlug:     slug,
			HomeTeam:      g.HomeTeam,
			AwayTeam:      g.AwayTeam,
			GameTimeUTC:   g.TipoffUTC,
			ExecuteAfter:  g.TipoffUTC.Add(-window),
			ExecuteBefore: g.TipoffUTC,
			Side:          domain.SideDirectional,
		})
		if err != nil {
			s.log.Warn("discovery: upsert failed", "slug", slug, "err", err)
			continue
		}
		if ok {
			inserted++
			s.log.Info("discovery: new game job", "slug", slug, "tipoff", g.TipoffUTC)
		}
	}
	return inserted, nil
}

// recoverExecuting resolves jobs stuck in 'executing' after a crash: if the
// slug already has a signal in the job's role the order went out, otherwise
// the claim is rolled back to pending.
func (s *Scheduler) recoverExecuting(ctx context.Context) int {
	jobs, err := s.store.GetExecutingJobs(ctx)
	if err != nil {
		s.log.Warn("recovery: list executing failed", "err", err)
		return 0
	}

	recovered := 0
	for _, job := range jobs {
		role := domain.RoleDirectional
		if job.Side == domain.SideHedge {
			role = domain.RoleHedge
		}
		has, err := s.store.HasSignalForSlugRole(ctx, job.EventSlug, role)
		if err != nil {
			s.log.Warn("recovery: signal probe failed", "slug", job.EventSlug, "err", err)
			continue
		}
		to := domain.JobPending
		if has {
			to = domain.JobExecuted
		}
		if err := s.store.UpdateJobStatus(ctx, job.ID, to); err != nil {
			s.log.Warn("recovery: transition failed", "job", job.ID, "err", err)
			continue
		}
		s.log.Info("recovery: executing job resolved", "slug", job.EventSlug, "side", job.Side, "to", to)
		recovered++
	}
	return recovered
}

// bankroll devuelve el capital de referencia del tick: balance on-chain en
// live, bankroll de papel más PnL acumulado en el resto de modos.
func (s *Scheduler) bankroll(ctx context.Context) (float64, error) {
	if s.mode == ModeLive {
		return s.market.GetBalanceUSD(ctx)
	}

	pnls, err := s.store.GetDailyPnLs(ctx, 365)
	if err != nil {
		return 0, err
	}
	total := s.cfg.Trading.PaperBankroll
	for _, p := range pnls {
		total += p
	}
	return total, nil
}

// dispatch claims and executes eligible jobs in (tipoff, slug) order until
// the per-tick order budget runs out. Only jobs that actually placed an
// order consume budget.
func (s *Scheduler) dispatch(ctx context.Context, bankroll float64, a risk.Assessment, sum *TickSummary) {
	if !a.Level.AllowsNewEntries() {
		s.log.Info("dispatch: breaker blocks new entries", "level", a.Level)
		return
	}

	jobs, err := s.store.GetEligibleJobs(ctx, s.now())
	if err != nil {
		s.log.Warn("dispatch: list eligible failed", "err", err)
		return
	}

	for _, job := range jobs {
		if sum.Placed >= s.cfg.Schedule.MaxOrdersPerTick {
			break
		}
		if job.Status == domain.JobFailed && job.RetryCount >= s.cfg.Schedule.MaxRetries {
			continue // se queda en failed hasta que la ventana lo expire
		}

		claimed, err := s.store.ClaimJob(ctx, job.ID)
		if err != nil {
			s.log.Warn("dispatch: claim failed", "job", job.ID, "err", err)
			continue
		}
		if !claimed {
			continue // otro tick se lo llevó
		}
		sum.Claimed++

		var res execResult
		if job.Side == domain.SideHedge {
			res, err = s.executeHedge(ctx, job, bankroll, a.Multiplier)
		} else {
			res, err = s.executeDirectional(ctx, job, bankroll, a.Multiplier)
		}

		if err != nil {
			s.failJob(ctx, job, err)
			sum.Failed++
			continue
		}
		s.settleExecution(ctx, job, res, sum)
	}
}

// settleExecution applies the executor's verdict to the job row.
func (s *Scheduler) settleExecution(ctx context.Context, job domain.TradeJob, res execResult, sum *TickSummary) {
	if err := s.store.UpdateJobStatus(ctx, job.ID, res.status); err != nil {
		s.log.Error("dispatch: status update failed", "job", job.ID, "status", res.status, "err", err)
		return
	}

	switch res.status {
	case domain.JobExecuted, domain.JobDCAActive:
		sum.Placed++
		s.log.Info("dispatch: order placed",
			"slug", job.EventSlug, "side", job.Side, "status", res.status,
			"team", res.team, "limit", res.limit, "size_usd", res.sizeUSD)
	case domain.JobSkipped:
		sum.Skipped++
		s.log.Info("dispatch: job skipped", "slug", job.EventSlug, "side", job.Side, "reason", res.reason)
	case domain.JobPending:
		sum.Held++
		s.log.Debug("dispatch: job held", "slug", job.EventSlug, "side", job.Side, "reason", res.reason)
	}
}

// failJob registra el error, suma el retry y deja el job en failed para que
// un tick posterior lo reintente dentro de la ventana.
func (s *Scheduler) failJob(ctx context.Context, job domain.TradeJob, cause error) {
	s.log.Warn("dispatch: job failed", "slug", job.EventSlug, "side", job.Side,
		"retry", job.RetryCount+1, "err", cause)
	if err := s.store.IncrementJobRetry(ctx, job.ID); err != nil {
		s.log.Error("dispatch: retry bump failed", "job", job.ID, "err", err)
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, domain.JobFailed); err != nil {
		s.log.Error("dispatch: fail transition failed", "job", job.ID, "err", err)
	}
}
