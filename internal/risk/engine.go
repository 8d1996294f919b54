package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/courtbot/config"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
)

const (
	redDwell    = 72 * time.Hour
	orangeDwell = 24 * time.Hour

	recoveryResults = 5    // settlements checked for the ORANGE exit gate
	recoveryWinRate = 0.60 // win rate those settlements must reach
	positiveDaysReq = 3    // positive-PnL days required for YELLOW exit

	// A YELLOW reached by stepping down from ORANGE trades at quarter size
	// until it clears, not at the usual half size.
	demotedYellowMult = 0.25

	balanceAnomalyPct = 0.10
	driftSampleLimit  = 500
	drawdownLookback  = 90 // days of equity history for the high-water mark
)

// Assessment is the risk verdict the scheduler acts on for one tick.
type Assessment struct {
	Level      domain.RiskLevel
	Multiplier float64
	Degraded   bool
	Snapshot   domain.RiskSnapshot
}

// Engine computes the circuit-breaker level from persisted results and
// enforces the graded-recovery dwell times. One Assess call per tick.
type Engine struct {
	store    ports.Store
	notifier ports.Notifier
	cfg      config.RiskConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(store ports.Store, notifier ports.Notifier, cfg config.RiskConfig, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With("component", "risk"),
		now:      time.Now,
	}
}

type metrics struct {
	bankroll      float64
	dailyPnL      float64
	weeklyPnL     float64
	consecLosses  int
	drawdownPct   float64
	driftZMax     float64
	positiveDays  int
	recentWins    int
	recentResults int
}

// Assess computes the current level, persists the snapshot and notifies on
// transitions. Any failure degrades to (YELLOW, 0.5) rather than guessing.
func (e *Engine) Assess(ctx context.Context, bankroll float64) Assessment {
	prev, havePrev, err := e.store.LatestRiskSnapshot(ctx)
	if err != nil {
		return e.degrade(ctx, bankroll, fmt.Sprintf("load snapshot: %v", err))
	}
	prevLevel := domain.RiskGreen
	if havePrev {
		prevLevel = prev.Level
	}

	m, err := e.computeMetrics(ctx, bankroll)
	if err != nil {
		return e.degrade(ctx, bankroll, err.Error())
	}

	// The last snapshot's bankroll already reflects every settled result,
	// so a further drop of this size means money left the wallet outside
	// the books. Alert loudly; the level logic stays PnL-driven.
	if havePrev && prev.Bankroll > 0 && bankroll < prev.Bankroll*(1-balanceAnomalyPct) {
		msg := fmt.Sprintf("bankroll $%.2f is %.0f%%+ below last snapshot ($%.2f)",
			bankroll, balanceAnomalyPct*100, prev.Bankroll)
		e.log.Error("balance anomaly", "bankroll", bankroll, "snapshot_bankroll", prev.Bankroll)
		_ = e.notifier.Alert(ctx, "⚠️ "+msg)
	}

	raw, rawReason := e.rawLevel(m)
	level, reason, err := e.settleLevel(ctx, prevLevel, raw, rawReason, m)
	if err != nil {
		return e.degrade(ctx, bankroll, err.Error())
	}

	if level != prevLevel {
		ev := domain.BreakerEvent{FromLevel: prevLevel, ToLevel: level, Reason: reason}
		if err := e.store.InsertBreakerEvent(ctx, ev); err != nil {
			return e.degrade(ctx, bankroll, fmt.Sprintf("record transition: %v", err))
		}
		e.notifyTransition(ctx, prevLevel, level, reason)
	}

	mult, err := e.multiplierFor(ctx, level)
	if err != nil {
		return e.degrade(ctx, bankroll, err.Error())
	}

	snap := domain.RiskSnapshot{
		Level:            level,
		SizingMultiplier: mult,
		Bankroll:         bankroll,
		DailyPnL:         m.dailyPnL,
		WeeklyPnL:        m.weeklyPnL,
		ConsecLosses:     m.consecLosses,
		MaxDrawdownPct:   m.drawdownPct,
		DriftZMax:        m.driftZMax,
		Reason:           reason,
	}
	if err := e.store.SaveRiskSnapshot(ctx, snap); err != nil {
		// Already acted on the level this tick; next tick recomputes from
		// results either way.
		e.log.Error("persist risk snapshot", "error", err)
	}

	e.log.Info("risk assessed",
		"level", level, "multiplier", mult,
		"daily_pnl", m.dailyPnL, "weekly_pnl", m.weeklyPnL,
		"consec_losses", m.consecLosses,
		"drawdown_pct", m.drawdownPct, "drift_z_max", m.driftZMax)

	return Assessment{Level: level, Multiplier: mult, Snapshot: snap}
}

func (e *Engine) computeMetrics(ctx context.Context, bankroll float64) (metrics, error) {
	now := e.now().UTC()
	m := metrics{bankroll: bankroll}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := e.store.GetResultsSince(ctx, dayStart)
	if err != nil {
		return m, fmt.Errorf("daily pnl: %w", err)
	}
	for _, r := range today {
		m.dailyPnL += r.PnLUSD
	}

	week, err := e.store.GetResultsSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return m, fmt.Errorf("weekly pnl: %w", err)
	}
	for _, r := range week {
		m.weeklyPnL += r.PnLUSD
	}

	recent, err := e.store.GetRecentResults(ctx, 50)
	if err != nil {
		return m, fmt.Errorf("recent results: %w", err)
	}
	for _, r := range recent {
		if r.Won {
			break
		}
		m.consecLosses++
	}
	for i, r := range recent {
		if i >= recoveryResults {
			break
		}
		m.recentResults++
		if r.Won {
			m.recentWins++
		}
	}

	daily, err := e.store.GetDailyPnLs(ctx, drawdownLookback)
	if err != nil {
		return m, fmt.Errorf("daily pnls: %w", err)
	}
	m.drawdownPct = drawdownFromHWM(daily, bankroll)
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i] <= 0 {
			break
		}
		m.positiveDays++
	}

	samples, err := e.store.GetCalibrationSamples(ctx, driftSampleLimit)
	if err != nil {
		return m, fmt.Errorf("calibration samples: %w", err)
	}
	m.driftZMax = MaxAbsZ(DriftZScores(samples))

	return m, nil
}

// drawdownFromHWM reconstructs the equity series backwards from the current
// bankroll using the daily realized PnLs, then measures how far the current
// equity sits below the series' high-water mark.
func drawdownFromHWM(dailyPnLs []float64, bankroll float64) float64 {
	equity := bankroll
	hwm := bankroll
	for i := len(dailyPnLs) - 1; i >= 0; i-- {
		equity -= dailyPnLs[i]
		if equity > hwm {
			hwm = equity
		}
	}
	if hwm <= 0 {
		return 0
	}
	return (hwm - bankroll) / hwm
}

// rawLevel maps the metrics to a level, highest severity first, ignoring
// history.
func (e *Engine) rawLevel(m metrics) (domain.RiskLevel, string) {
	if m.bankroll <= 0 {
		return domain.RiskRed, "bankroll depleted"
	}
	lossPct := func(pnl float64) float64 {
		if pnl >= 0 {
			return 0
		}
		return -pnl / m.bankroll
	}

	switch {
	case lossPct(m.weeklyPnL) >= e.cfg.WeeklyLossLimitPct:
		return domain.RiskRed, fmt.Sprintf("weekly loss %.1f%% >= limit %.1f%%",
			lossPct(m.weeklyPnL)*100, e.cfg.WeeklyLossLimitPct*100)
	case m.drawdownPct >= e.cfg.MaxDrawdownLimitPct:
		return domain.RiskRed, fmt.Sprintf("drawdown %.1f%% >= limit %.1f%%",
			m.drawdownPct*100, e.cfg.MaxDrawdownLimitPct*100)
	case lossPct(m.dailyPnL) >= e.cfg.DailyLossLimitPct:
		return domain.RiskOrange, fmt.Sprintf("daily loss %.1f%% >= limit %.1f%%",
			lossPct(m.dailyPnL)*100, e.cfg.DailyLossLimitPct*100)
	case m.driftZMax > e.cfg.DriftThresholdSigma:
		return domain.RiskOrange, fmt.Sprintf("calibration drift z=%.2f > %.1f sigma",
			m.driftZMax, e.cfg.DriftThresholdSigma)
	case m.consecLosses >= e.cfg.ConsecLossLimit:
		return domain.RiskYellow, fmt.Sprintf("%d consecutive losses", m.consecLosses)
	case lossPct(m.dailyPnL) >= e.cfg.DailyLossLimitPct/2:
		return domain.RiskYellow, fmt.Sprintf("daily loss %.1f%% >= half limit",
			lossPct(m.dailyPnL)*100)
	default:
		return domain.RiskGreen, ""
	}
}

// settleLevel reconciles the raw level with the previous one. Escalations
// take effect immediately; recovery steps down one level at a time and only
// after its dwell gate clears.
func (e *Engine) settleLevel(ctx context.Context, prev, raw domain.RiskLevel, rawReason string, m metrics) (domain.RiskLevel, string, error) {
	if raw.Severity() >= prev.Severity() {
		return raw, rawReason, nil
	}

	switch prev {
	case domain.RiskRed:
		ev, found, err := e.store.LastBreakerTransition(ctx, domain.RiskRed)
		if err != nil {
			return prev, "", fmt.Errorf("red dwell: %w", err)
		}
		if found && ev.Acked && e.now().Sub(ev.CreatedAt) >= redDwell {
			return domain.RiskOrange, "acknowledged after 72h lock", nil
		}
		return domain.RiskRed, "awaiting ack and 72h lock", nil

	case domain.RiskOrange:
		ev, found, err := e.store.LastBreakerTransition(ctx, domain.RiskOrange)
		if err != nil {
			return prev, "", fmt.Errorf("orange dwell: %w", err)
		}
		dwellOK := found && e.now().Sub(ev.CreatedAt) >= orangeDwell
		winRateOK := m.recentResults >= recoveryResults &&
			float64(m.recentWins)/float64(m.recentResults) >= recoveryWinRate
		if dwellOK && winRateOK {
			return domain.RiskYellow, fmt.Sprintf("24h elapsed, last-%d win rate %.0f%%",
				recoveryResults, 100*float64(m.recentWins)/float64(m.recentResults)), nil
		}
		return domain.RiskOrange, "awaiting 24h dwell and 60% recent win rate", nil

	default: // YELLOW
		if m.positiveDays >= positiveDaysReq {
			return domain.RiskGreen, fmt.Sprintf("%d consecutive positive days", m.positiveDays), nil
		}
		return domain.RiskYellow, fmt.Sprintf("awaiting %d positive days (%d so far)",
			positiveDaysReq, m.positiveDays), nil
	}
}

// multiplierFor applies the demotion discount: a YELLOW entered from ORANGE
// runs at quarter size until it recovers to GREEN.
func (e *Engine) multiplierFor(ctx context.Context, level domain.RiskLevel) (float64, error) {
	mult := level.BaseMultiplier()
	if level != domain.RiskYellow {
		return mult, nil
	}
	ev, found, err := e.store.LastBreakerTransition(ctx, domain.RiskYellow)
	if err != nil {
		return 0, fmt.Errorf("yellow provenance: %w", err)
	}
	if found && ev.FromLevel == domain.RiskOrange {
		return demotedYellowMult, nil
	}
	return mult, nil
}

func (e *Engine) notifyTransition(ctx context.Context, from, to domain.RiskLevel, reason string) {
	msg := fmt.Sprintf("circuit breaker %s → %s: %s", from, to, reason)
	e.log.Warn("circuit breaker transition", "from", from, "to", to, "reason", reason)
	if to.Severity() > from.Severity() {
		_ = e.notifier.Alert(ctx, "🚨 "+msg)
	} else {
		_ = e.notifier.Notify(ctx, "✅ "+msg)
	}
}

func (e *Engine) degrade(ctx context.Context, bankroll float64, reason string) Assessment {
	e.log.Error("risk computation failed, degrading", "reason", reason)
	snap := domain.RiskSnapshot{
		Level:            domain.RiskYellow,
		SizingMultiplier: 0.5,
		Bankroll:         bankroll,
		Degraded:         true,
		Reason:           reason,
	}
	if err := e.store.SaveRiskSnapshot(ctx, snap); err != nil {
		e.log.Error("persist degraded snapshot", "error", err)
	}
	return Assessment{Level: domain.RiskYellow, Multiplier: 0.5, Degraded: true, Snapshot: snap}
}
