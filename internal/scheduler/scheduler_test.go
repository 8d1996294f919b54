package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/courtbot/config"
	"github.com/alejandrodnm/courtbot/internal/adapters/storage"
	"github.com/alejandrodnm/courtbot/internal/calibration"
	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/risk"
)

// fakeVenue implements ports.MarketClient from in-memory maps.
type fakeVenue struct {
	moneylines map[string]domain.Moneyline
	books      map[string]domain.OrderBook
	prices     map[string]domain.PriceQuote
	placed     []domain.PlaceOrderRequest
	nextID     string
}

func (f *fakeVenue) GetMoneyline(_ context.Context, slug string) (domain.Moneyline, error) {
	ml, ok := f.moneylines[slug]
	if !ok {
		return domain.Moneyline{}, domain.ErrMarketNotFound
	}
	return ml, nil
}

func (f *fakeVenue) GetPrice(_ context.Context, tokenID string) (domain.PriceQuote, error) {
	return f.prices[tokenID], nil
}

func (f *fakeVenue) GetOrderBook(_ context.Context, tokenID string) (domain.OrderBook, error) {
	return f.books[tokenID], nil
}

func (f *fakeVenue) PlaceLimitBuy(_ context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.placed = append(f.placed, req)
	return domain.PlacedOrder{OrderID: f.nextID, Status: "live"}, nil
}

func (f *fakeVenue) CancelOrder(context.Context, string) (bool, error) { return true, nil }

func (f *fakeVenue) GetOrder(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, nil
}

func (f *fakeVenue) CancelAndReplace(_ context.Context, _ string, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	f.placed = append(f.placed, req)
	return domain.PlacedOrder{OrderID: f.nextID, Status: "live"}, nil
}

func (f *fakeVenue) GetBalanceUSD(context.Context) (float64, error) { return 1000, nil }

// fakeGames implements ports.GameProvider.
type fakeGames struct {
	games []domain.Game
}

func (f *fakeGames) GamesForDate(context.Context, string) ([]domain.Game, error) {
	return f.games, nil
}

// fakeNotifier collects messages instead of delivering them.
type fakeNotifier struct {
	notices []string
	alerts  []string
}

func (f *fakeNotifier) Notify(_ context.Context, msg string) error {
	f.notices = append(f.notices, msg)
	return nil
}

func (f *fakeNotifier) Alert(_ context.Context, msg string) error {
	f.alerts = append(f.alerts, msg)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			FractionalKelly:  0.25,
			MaxPositionUSD:   50,
			CapitalRiskPct:   0.02,
			LiquidityFillPct: 0.10,
			MaxSpreadPct:     0.10,
			MinOrderUSD:      1,
			PaperBankroll:    1000,
			MinBalanceUSD:    10,
			MaxDailyOrders:   20,
			MaxDailyExposure: 500,
			MaxTotalExposure: 400,
			MaxGameExposure:  100,
		},
		Schedule: config.ScheduleConfig{
			WindowHours:      8,
			MaxOrdersPerTick: 5,
			MaxRetries:       3,
			HedgeDelayMin:    0,
		},
		DCA: config.DCAConfig{
			MaxEntries:     4,
			MinIntervalMin: 30,
			MaxPriceSpread: 0.08,
			MinPriceDipPct: 0.02,
			DeferRisePct:   0.03,
			CapMult:        1.5,
			CutoffMin:      45,
		},
		Bothside: config.BothsideConfig{
			Enabled:        true,
			MergeEnabled:   true,
			MinProfitUSD:   0.10,
			MinSharesFloor: 10,
			FallbackGasUSD: 0.02,
		},
		Risk: config.RiskConfig{
			DailyLossLimitPct:   0.05,
			WeeklyLossLimitPct:  0.15,
			MaxDrawdownLimitPct: 0.20,
			DriftThresholdSigma: 2.5,
			ConsecLossLimit:     6,
			OrangeDCAContinues:  true,
		},
	}
}

// testCurve fits a curve with a clear favorite edge over [0.55, 0.95] so
// asks below 0.55 land outside the domain and carry no edge.
func testCurve(t *testing.T) *calibration.Curve {
	t.Helper()
	c, err := calibration.Fit(calibration.Artifact{
		PriceLo: 0.55,
		PriceHi: 0.95,
		Buckets: []calibration.Bucket{
			{Price: 0.55, Wins: 700, N: 1000},
			{Price: 0.75, Wins: 820, N: 1000},
			{Price: 0.95, Wins: 960, N: 1000},
		},
	}, 0.90)
	require.NoError(t, err)
	return c
}

func newTestScheduler(t *testing.T, mode Mode) (*Scheduler, *storage.SQLiteStore, *fakeVenue, *fakeGames, *fakeNotifier) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	venue := &fakeVenue{
		moneylines: map[string]domain.Moneyline{},
		books:      map[string]domain.OrderBook{},
		prices:     map[string]domain.PriceQuote{},
		nextID:     "order-1",
	}
	games := &fakeGames{}
	notifier := &fakeNotifier{}
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := risk.NewEngine(store, notifier, cfg.Risk, log)
	s := New(store, venue, games, nil, engine, testCurve(t), notifier, cfg, mode, log)
	return s, store, venue, games, notifier
}

// seedGame registers one scheduled game tipping off in two hours plus a
// liquid market where the home side has a calibration edge at 0.60.
func seedGame(venue *fakeVenue, games *fakeGames) (slug string, tipoff time.Time) {
	tipoff = time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	date := domain.EasternDate(time.Now())
	slug = domain.BuildEventSlug("BOS", "LAL", date)

	games.games = []domain.Game{{
		GameID:    "001",
		AwayTeam:  "BOS",
		HomeTeam:  "LAL",
		TipoffUTC: tipoff,
		Status:    domain.GameScheduled,
	}}
	venue.moneylines[slug] = domain.Moneyline{
		EventSlug:   slug,
		ConditionID: "0xcond",
		Active:      true,
		Home:        domain.OutcomeQuote{TokenID: "tok-lal", Team: "LAL", BestBid: 0.59, BestAsk: 0.60},
		Away:        domain.OutcomeQuote{TokenID: "tok-bos", Team: "BOS", BestBid: 0.40, BestAsk: 0.41},
	}
	venue.books["tok-lal"] = domain.OrderBook{
		TokenID: "tok-lal",
		Bids:    []domain.BookEntry{{Price: 0.59, Size: 5000}},
		Asks:    []domain.BookEntry{{Price: 0.60, Size: 5000}},
	}
	return slug, tipoff
}

func TestRunTickPaperDirectional(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Discovered)
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Placed)
	assert.Equal(t, domain.RiskGreen, sum.Level)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDCAActive, dir.Status, "remainder of the budget accumulates by DCA")
	assert.NotEmpty(t, dir.DCAGroupID)
	assert.InDelta(t, 20.0, dir.DCABudgetUSD, 1e-9, "capital cap binds at 2% of bankroll")
	assert.NotZero(t, dir.PairedJobID, "directional leg must be paired with its hedge job")

	hedge, err := store.GetJobBySlugSide(ctx, slug, domain.SideHedge)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, hedge.Status)
	assert.NotEmpty(t, hedge.BothsideGroupID)
	assert.Equal(t, dir.ID, hedge.PairedJobID)

	sigs, err := store.GetSignalsByDCAGroup(ctx, dir.DCAGroupID)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, "LAL", sig.Team)
	assert.Equal(t, domain.RoleDirectional, sig.Role)
	assert.Equal(t, 1, sig.DCASequence, "initial entry opens the sequence")
	assert.Equal(t, domain.OrderPaper, sig.OrderStatus, "paper mode fills instantly, no real order")
	assert.InDelta(t, 0.59, sig.LimitPrice, 1e-9, "maker bid one tick under the ask")
	assert.InDelta(t, 5.0, sig.SizeUSD, 1e-9, "first entry takes budget/max_entries")
	assert.InDelta(t, sig.SizeUSD/sig.LimitPrice, sig.Shares, 0.01)
	assert.Empty(t, venue.placed, "paper mode never touches the venue")
}

func TestRunTickIsIdempotentAcrossTicks(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	_, err := s.RunTick(ctx)
	require.NoError(t, err)
	sum2, err := s.RunTick(ctx)
	require.NoError(t, err)

	// The second tick rediscovers the same game but the executed job is
	// neither resurrected nor re-dispatched.
	assert.Equal(t, 0, sum2.Discovered)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDCAActive, dir.Status)

	sigs, err := store.GetSignalsByDCAGroup(ctx, dir.DCAGroupID)
	require.NoError(t, err)
	assert.Len(t, sigs, 1, "exactly one directional entry despite two ticks")
}

func TestHedgeLegPlacedAfterDirectionalFills(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	_, err := s.RunTick(ctx)
	require.NoError(t, err)

	// Hedge delay is zero in the test config, so the second tick dispatches
	// the hedge leg against the directional's simulated fill.
	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Placed)

	hedge, err := store.GetJobBySlugSide(ctx, slug, domain.SideHedge)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecuted, hedge.Status)

	sigs, err := store.GetSignalsByBothsideGroup(ctx, hedge.BothsideGroupID)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	dirVWAP, dirShares, _ := legPosition(sigs, domain.RoleDirectional)
	hedgeVWAP, hedgeShares, team := legPosition(sigs, domain.RoleHedge)
	assert.Equal(t, "BOS", team)
	assert.InDelta(t, dirShares, hedgeShares, 0.05, "hedge matches the directional inventory")
	assert.Less(t, dirVWAP+hedgeVWAP, 1.0, "pair entered below $1 combined so it stays mergeable")
}

func TestHedgeSkippedAboveCeilingInPaper(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	_, err := s.RunTick(ctx)
	require.NoError(t, err)

	// Opposite side too expensive: 0.59 + 0.42 leaves no merge margin.
	// In paper there is no real book to wait on, so the leg is skipped
	// outright instead of held for a better price.
	ml := venue.moneylines[slug]
	ml.Away = domain.OutcomeQuote{TokenID: "tok-bos", Team: "BOS", BestBid: 0.41, BestAsk: 0.43}
	venue.moneylines[slug] = ml

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Placed)
	assert.GreaterOrEqual(t, sum.Skipped, 1)

	hedge, err := store.GetJobBySlugSide(ctx, slug, domain.SideHedge)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSkipped, hedge.Status)

	has, err := store.HasSignalForSlugRole(ctx, slug, domain.RoleHedge)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestThinBookActivatesDCA(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	// Only $12 of depth near the ask: the liquidity cap cuts the entry far
	// below the Kelly budget and the remainder accumulates by DCA.
	venue.books["tok-lal"] = domain.OrderBook{
		TokenID: "tok-lal",
		Bids:    []domain.BookEntry{{Price: 0.59, Size: 20}},
		Asks:    []domain.BookEntry{{Price: 0.60, Size: 20}},
	}
	ctx := context.Background()

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Placed)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDCAActive, dir.Status)

	assert.InDelta(t, 1.2, dir.DCABudgetUSD, 1e-9, "budget pinned at the liquidity cap")

	sigs, err := store.GetSignalsByDCAGroup(ctx, dir.DCAGroupID)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.InDelta(t, 1.0, sigs[0].SizeUSD, 1e-9, "slice floors at the minimum order")
}

func TestBreakerBlocksDispatch(t *testing.T) {
	s, store, venue, games, notifier := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	// A settled 30% bankroll loss trips the weekly limit before the tick.
	past := time.Now().UTC().Add(-30 * time.Hour)
	_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
		GameDate:      domain.EasternDate(past),
		EventSlug:     "nba-mia-den-2026-01-10",
		HomeTeam:      "DEN",
		AwayTeam:      "MIA",
		GameTimeUTC:   past,
		ExecuteAfter:  past.Add(-8 * time.Hour),
		ExecuteBefore: past,
		Side:          domain.SideDirectional,
		Status:        domain.JobExecuted,
	})
	require.NoError(t, err)
	lost, err := store.GetJobBySlugSide(ctx, "nba-mia-den-2026-01-10", domain.SideDirectional)
	require.NoError(t, err)
	sigID, err := store.InsertSignal(ctx, domain.Signal{
		JobID: lost.ID, EventSlug: lost.EventSlug, Team: "DEN",
		TokenID: "tok-den", Side: "BUY", LimitPrice: 0.60, SizeUSD: 300,
		Shares: 500, VWAP: 0.60, OrderStatus: domain.OrderPaper,
		Role: domain.RoleDirectional, DCAGroupID: "grp-lost",
	})
	require.NoError(t, err)
	require.NoError(t, store.InsertResult(ctx, domain.Result{
		SignalID: sigID, EventSlug: lost.EventSlug, Won: false, PnLUSD: -300,
	}))

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.RiskRed, sum.Level)
	assert.Zero(t, sum.Placed)
	assert.Zero(t, sum.Claimed)
	assert.NotEmpty(t, notifier.alerts, "breaker transitions alert the operator")

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, dir.Status, "the game job waits untouched")
}

func TestDryRunWritesNothing(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModeDryRun)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Claimed)
	assert.Zero(t, sum.Placed)
	assert.Equal(t, 1, sum.Held)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, dir.Status)

	has, err := store.HasSignalForSlugRole(ctx, slug, domain.RoleDirectional)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, venue.placed)
}

func TestRecoverExecutingJobs(t *testing.T) {
	s, store, _, _, _ := newTestScheduler(t, ModePaper)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(2 * time.Hour)

	seed := func(slug string) domain.TradeJob {
		_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
			GameDate:      "2026-01-15",
			EventSlug:     slug,
			HomeTeam:      "LAL",
			AwayTeam:      "BOS",
			GameTimeUTC:   tipoff,
			ExecuteAfter:  tipoff.Add(-8 * time.Hour),
			ExecuteBefore: tipoff,
			Side:          domain.SideDirectional,
			Status:        domain.JobExecuting,
		})
		require.NoError(t, err)
		job, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
		require.NoError(t, err)
		return job
	}

	withSig := seed("nba-bos-lal-2026-01-15")
	withoutSig := seed("nba-gsw-phx-2026-01-15")

	// The first crashed after its order went out, the second before.
	_, err := store.InsertSignal(ctx, domain.Signal{
		JobID: withSig.ID, EventSlug: withSig.EventSlug, Team: "LAL",
		TokenID: "tok-lal", Side: "BUY", LimitPrice: 0.59, SizeUSD: 20,
		Shares: 33.9, VWAP: 0.59, OrderStatus: domain.OrderPaper,
		Role: domain.RoleDirectional, DCAGroupID: "grp-a",
	})
	require.NoError(t, err)

	recovered := s.recoverExecuting(ctx)
	assert.Equal(t, 2, recovered)

	a, err := store.GetJob(ctx, withSig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExecuted, a.Status)

	b, err := store.GetJob(ctx, withoutSig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, b.Status)
}

func TestSimulatedMergeConservesCollateral(t *testing.T) {
	s, store, _, _, _ := newTestScheduler(t, ModePaper)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(-1 * time.Hour)
	slug := "nba-bos-lal-2026-01-15"
	group := "pair-1"

	seedLeg := func(side domain.JobSide) domain.TradeJob {
		_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
			GameDate:        "2026-01-15",
			EventSlug:       slug,
			HomeTeam:        "LAL",
			AwayTeam:        "BOS",
			GameTimeUTC:     tipoff,
			ExecuteAfter:    tipoff.Add(-8 * time.Hour),
			ExecuteBefore:   tipoff,
			Side:            side,
			Status:          domain.JobExecuted,
			BothsideGroupID: group,
		})
		require.NoError(t, err)
		job, err := store.GetJobBySlugSide(ctx, slug, side)
		require.NoError(t, err)
		return job
	}
	dir := seedLeg(domain.SideDirectional)
	hedge := seedLeg(domain.SideHedge)
	require.NoError(t, store.SetJobPairing(ctx, dir.ID, hedge.ID))

	// 100 matched pairs bought for $0.92 combined: $8 locked profit.
	_, err := store.InsertSignal(ctx, domain.Signal{
		JobID: dir.ID, EventSlug: slug, Team: "LAL", TokenID: "tok-lal",
		ConditionID: "0xcond", Side: "BUY", LimitPrice: 0.52, SizeUSD: 52,
		Shares: 100, VWAP: 0.52, OrderStatus: domain.OrderPaper,
		Role: domain.RoleDirectional, DCAGroupID: "grp-d", BothsideGroupID: group,
	})
	require.NoError(t, err)
	_, err = store.InsertSignal(ctx, domain.Signal{
		JobID: hedge.ID, EventSlug: slug, Team: "BOS", TokenID: "tok-bos",
		ConditionID: "0xcond", Side: "BUY", LimitPrice: 0.40, SizeUSD: 40,
		Shares: 100, VWAP: 0.40, OrderStatus: domain.OrderPaper,
		Role: domain.RoleHedge, BothsideGroupID: group,
	})
	require.NoError(t, err)

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Merges)

	op, err := store.GetMergeOperation(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeOpSimulated, op.Status)
	assert.InDelta(t, 100, op.SharesMerged, 1e-9)
	assert.InDelta(t, 0.92, op.CombinedVWAP, 1e-9)
	assert.InDelta(t, 8.0, op.RecoveryUSD, 1e-9)
	assert.Zero(t, op.GasCostUSD, "simulated merges burn no gas")

	sigs, err := store.GetSignalsByBothsideGroup(ctx, group)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	var totalRecovery float64
	for _, sig := range sigs {
		assert.InDelta(t, 100, sig.SharesMerged, 1e-9)
		assert.Zero(t, sig.RemainingShares())
		totalRecovery += sig.MergeRecoveryUSD
	}
	// Each merged pair redeems for exactly $1 of collateral.
	assert.InDelta(t, 100.0, totalRecovery, 1e-6)

	for _, id := range []int64{dir.ID, hedge.ID} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.MergeSimulated, job.MergeStatus)
	}

	// A later tick must not merge the pair again.
	sum2, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum2.Merges)
}

func TestUnprofitablePairSkipped(t *testing.T) {
	s, store, _, _, _ := newTestScheduler(t, ModePaper)
	ctx := context.Background()
	tipoff := time.Now().UTC().Add(-1 * time.Hour)
	slug := "nba-mia-den-2026-01-15"
	group := "pair-2"

	for _, side := range []domain.JobSide{domain.SideDirectional, domain.SideHedge} {
		_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
			GameDate: "2026-01-15", EventSlug: slug,
			HomeTeam: "DEN", AwayTeam: "MIA",
			GameTimeUTC: tipoff, ExecuteAfter: tipoff.Add(-8 * time.Hour), ExecuteBefore: tipoff,
			Side: side, Status: domain.JobExecuted, BothsideGroupID: group,
		})
		require.NoError(t, err)
	}
	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	hedge, err := store.GetJobBySlugSide(ctx, slug, domain.SideHedge)
	require.NoError(t, err)
	require.NoError(t, store.SetJobPairing(ctx, dir.ID, hedge.ID))

	// Combined 1.01: merging would lock a loss.
	_, err = store.InsertSignal(ctx, domain.Signal{
		JobID: dir.ID, EventSlug: slug, Team: "DEN", TokenID: "tok-den",
		Side: "BUY", LimitPrice: 0.60, SizeUSD: 60, Shares: 100, VWAP: 0.60,
		OrderStatus: domain.OrderPaper, Role: domain.RoleDirectional,
		DCAGroupID: "grp-x", BothsideGroupID: group,
	})
	require.NoError(t, err)
	_, err = store.InsertSignal(ctx, domain.Signal{
		JobID: hedge.ID, EventSlug: slug, Team: "MIA", TokenID: "tok-mia",
		Side: "BUY", LimitPrice: 0.41, SizeUSD: 41, Shares: 100, VWAP: 0.41,
		OrderStatus: domain.OrderPaper, Role: domain.RoleHedge, BothsideGroupID: group,
	})
	require.NoError(t, err)

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Merges)

	job, err := store.GetJob(ctx, dir.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MergeSkipped, job.MergeStatus)

	sigs, err := store.GetSignalsByBothsideGroup(ctx, group)
	require.NoError(t, err)
	for _, sig := range sigs {
		assert.Zero(t, sig.SharesMerged, "skipped pairs keep their inventory for settlement")
	}
}

func TestYellowBreakerStillDispatchesAtHalfSize(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	// Six straight small losses trip the loss-streak breaker without
	// touching the daily or weekly limits.
	past := time.Now().UTC().Add(-26 * time.Hour)
	_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
		GameDate:      domain.EasternDate(past),
		EventSlug:     "nba-mia-den-2026-01-10",
		HomeTeam:      "DEN",
		AwayTeam:      "MIA",
		GameTimeUTC:   past,
		ExecuteAfter:  past.Add(-8 * time.Hour),
		ExecuteBefore: past,
		Side:          domain.SideDirectional,
		Status:        domain.JobExecuted,
	})
	require.NoError(t, err)
	lost, err := store.GetJobBySlugSide(ctx, "nba-mia-den-2026-01-10", domain.SideDirectional)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		sigID, err := store.InsertSignal(ctx, domain.Signal{
			JobID: lost.ID, EventSlug: lost.EventSlug, Team: "DEN",
			TokenID: "tok-den", Side: "BUY", LimitPrice: 0.60, SizeUSD: 2,
			Shares: 3.33, VWAP: 0.60, OrderStatus: domain.OrderPaper,
			Role: domain.RoleDirectional, DCAGroupID: "grp-lost", DCASequence: i,
		})
		require.NoError(t, err)
		require.NoError(t, store.InsertResult(ctx, domain.Result{
			SignalID: sigID, EventSlug: lost.EventSlug, Won: false, PnLUSD: -1,
		}))
	}

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.RiskYellow, sum.Level)
	assert.InDelta(t, 0.5, sum.Multiplier, 1e-9)
	assert.Equal(t, 1, sum.Placed, "yellow throttles sizing but does not veto new entries")
	assert.Zero(t, sum.DCAOrders, "yellow still blocks follow-on accumulation")

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDCAActive, dir.Status)
}

func TestDCAUsesBudgetPinnedAtEntry(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	base := time.Now().UTC()
	s.WithClock(func() time.Time { return base })

	_, err := s.RunTick(ctx)
	require.NoError(t, err)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	require.Equal(t, domain.JobDCAActive, dir.Status)
	require.InDelta(t, 20.0, dir.DCABudgetUSD, 1e-9)

	// The price dips below the calibrated range, where the curve offers no
	// edge at all. The group still rebalances toward the budget pinned at
	// entry instead of re-deriving it from the new price.
	venue.prices["tok-lal"] = domain.PriceQuote{BestBid: 0.49, BestAsk: 0.52}
	s.WithClock(func() time.Time { return base.Add(31 * time.Minute) })

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DCAOrders)

	sigs, err := store.GetSignalsByDCAGroup(ctx, dir.DCAGroupID)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	entry := sigs[1]
	assert.Equal(t, 2, entry.DCASequence)
	assert.InDelta(t, 0.51, entry.LimitPrice, 1e-9, "one tick under the ask even across a wide spread")
	assert.InDelta(t, 7.5, entry.SizeUSD, 0.02, "min(gap, remaining, per-entry cap) against the $20 budget")

	job, err := store.GetJob(ctx, dir.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDCAActive, job.Status, "group stays active until target or budget is reached")
}

func TestTotalExposureCapHoldsNewEntries(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, _ := seedGame(venue, games)
	ctx := context.Background()

	// An open position elsewhere already sits above the global cap.
	past := time.Now().UTC().Add(-3 * time.Hour)
	_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
		GameDate:      domain.EasternDate(time.Now()),
		EventSlug:     "nba-gsw-phx-2026-01-10",
		HomeTeam:      "PHX",
		AwayTeam:      "GSW",
		GameTimeUTC:   past,
		ExecuteAfter:  past.Add(-8 * time.Hour),
		ExecuteBefore: past,
		Side:          domain.SideDirectional,
		Status:        domain.JobExecuted,
	})
	require.NoError(t, err)
	open, err := store.GetJobBySlugSide(ctx, "nba-gsw-phx-2026-01-10", domain.SideDirectional)
	require.NoError(t, err)
	_, err = store.InsertSignal(ctx, domain.Signal{
		JobID: open.ID, EventSlug: open.EventSlug, Team: "PHX",
		TokenID: "tok-phx", Side: "BUY", LimitPrice: 0.60, SizeUSD: 450,
		Shares: 750, VWAP: 0.60, OrderStatus: domain.OrderPaper,
		Role: domain.RoleDirectional, DCAGroupID: "grp-open",
	})
	require.NoError(t, err)

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Placed)
	assert.GreaterOrEqual(t, sum.Held, 1)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, dir.Status, "waits until open exposure unwinds")
}

func TestGameExposureCapHoldsSecondEntry(t *testing.T) {
	s, store, venue, games, _ := newTestScheduler(t, ModePaper)
	slug, tipoff := seedGame(venue, games)
	ctx := context.Background()

	// The hedge leg of the same game already carries $120.
	_, err := store.UpsertTradeJob(ctx, domain.TradeJob{
		GameDate:        domain.EasternDate(time.Now()),
		EventSlug:       slug,
		HomeTeam:        "LAL",
		AwayTeam:        "BOS",
		GameTimeUTC:     tipoff,
		ExecuteAfter:    tipoff.Add(-8 * time.Hour),
		ExecuteBefore:   tipoff,
		Side:            domain.SideHedge,
		Status:          domain.JobExecuted,
		BothsideGroupID: "pair-full",
	})
	require.NoError(t, err)
	hedge, err := store.GetJobBySlugSide(ctx, slug, domain.SideHedge)
	require.NoError(t, err)
	_, err = store.InsertSignal(ctx, domain.Signal{
		JobID: hedge.ID, EventSlug: slug, Team: "BOS",
		TokenID: "tok-bos", Side: "BUY", LimitPrice: 0.40, SizeUSD: 120,
		Shares: 300, VWAP: 0.40, OrderStatus: domain.OrderPaper,
		Role: domain.RoleHedge, BothsideGroupID: "pair-full",
	})
	require.NoError(t, err)

	sum, err := s.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Placed)
	assert.GreaterOrEqual(t, sum.Held, 1)

	dir, err := store.GetJobBySlugSide(ctx, slug, domain.SideDirectional)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, dir.Status)
}

func TestLifecycleLockAndStop(t *testing.T) {
	dir := t.TempDir()
	lc := NewLifecycle(dir)

	require.NoError(t, lc.Acquire())
	assert.ErrorIs(t, func() error {
		other := NewLifecycle(dir)
		return other.Acquire()
	}(), ErrLocked)
	lc.Release()
	require.NoError(t, lc.Acquire(), "released lock can be retaken")
	lc.Release()

	assert.NoError(t, lc.CheckStop())
	require.NoError(t, os.WriteFile(filepath.Join(dir, stopFileName), nil, 0o644))
	assert.ErrorIs(t, lc.CheckStop(), ErrStopped)

	require.NoError(t, lc.Heartbeat())
	assert.Less(t, lc.HeartbeatAge(), time.Minute)
}
