package nba

// client.go — NBA.com JSON feeds for game discovery and final scores.
//
// Two sources: the live scoreboard (today's games, with scores and status
// text) and the static season schedule (any date, scores included once
// final). Both are unauthenticated CDN endpoints; a small limiter keeps us
// polite.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const (
	defaultScoreboardURL = "https://cdn.nba.com/static/json/liveData/scoreboard/todaysScoreboard_00.json"
	defaultScheduleURL   = "https://cdn.nba.com/static/json/staticData/scheduleLeagueV2.json"

	// The season schedule file is ~10MB and changes slowly.
	scheduleCacheTTL = 6 * time.Hour
)

// Client implements ports.GameProvider against the NBA.com CDN.
type Client struct {
	http          *http.Client
	scoreboardURL string
	scheduleURL   string
	limiter       *rate.Limiter

	mu            sync.Mutex
	scheduleDates []scheduleGameDate
	scheduleAt    time.Time
}

// NewClient creates a Client. Empty baseURL uses the production CDN; a
// non-empty value overrides both endpoints (tests).
func NewClient(baseURL string) *Client {
	scoreboard := defaultScoreboardURL
	schedule := defaultScheduleURL
	if baseURL != "" {
		scoreboard = baseURL + "/scoreboard"
		schedule = baseURL + "/schedule"
	}
	return &Client{
		http:          &http.Client{Timeout: 15 * time.Second},
		scoreboardURL: scoreboard,
		scheduleURL:   schedule,
		limiter:       rate.NewLimiter(2, 2),
	}
}

// GamesForDate returns all games tipping off on the given ET date
// (YYYY-MM-DD). Today's date reads the live scoreboard so statuses and
// scores are current; other dates read the season schedule.
func (c *Client) GamesForDate(ctx context.Context, date string) ([]domain.Game, error) {
	if date == domain.EasternDate(time.Now()) {
		games, err := c.todaysGames(ctx)
		if err == nil && len(games) > 0 {
			return games, nil
		}
		if err != nil {
			slog.Warn("scoreboard fetch failed, falling back to season schedule", "err", err)
		}
	}
	return c.scheduledGames(ctx, date)
}

func (c *Client) todaysGames(ctx context.Context) ([]domain.Game, error) {
	var resp scoreboardResponse
	if err := c.get(ctx, c.scoreboardURL, &resp); err != nil {
		return nil, fmt.Errorf("nba.todaysGames: %w", err)
	}

	games := make([]domain.Game, 0, len(resp.Scoreboard.Games))
	for _, g := range resp.Scoreboard.Games {
		game, ok := mapScoreboardGame(g)
		if !ok {
			slog.Warn("skipping game with unknown team", "game_id", g.GameID,
				"home", g.HomeTeam.TeamTricode, "away", g.AwayTeam.TeamTricode)
			continue
		}
		games = append(games, game)
	}
	slog.Debug("scoreboard fetched", "games", len(games))
	return games, nil
}

func (c *Client) scheduledGames(ctx context.Context, date string) ([]domain.Game, error) {
	dates, err := c.seasonSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("nba.scheduledGames: %w", err)
	}

	// NBA.com keys game dates as "MM/DD/YYYY 00:00:00".
	dt, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("nba.scheduledGames: bad date %q: %w", date, err)
	}
	nbaKey := dt.Format("01/02/2006") + " 00:00:00"

	for _, gd := range dates {
		if gd.GameDate != nbaKey {
			continue
		}
		games := make([]domain.Game, 0, len(gd.Games))
		for _, g := range gd.Games {
			game, ok := mapScheduleGame(g)
			if !ok {
				continue
			}
			games = append(games, game)
		}
		return games, nil
	}
	return nil, nil
}

// seasonSchedule fetches and caches the full-season schedule.
func (c *Client) seasonSchedule(ctx context.Context) ([]scheduleGameDate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scheduleDates != nil && time.Since(c.scheduleAt) < scheduleCacheTTL {
		return c.scheduleDates, nil
	}

	var resp scheduleResponse
	if err := c.get(ctx, c.scheduleURL, &resp); err != nil {
		// Serve a stale cache over nothing.
		if c.scheduleDates != nil {
			slog.Warn("season schedule refresh failed, using cached copy", "err", err)
			return c.scheduleDates, nil
		}
		return nil, err
	}

	c.scheduleDates = resp.LeagueSchedule.GameDates
	c.scheduleAt = time.Now()
	slog.Info("season schedule loaded", "game_dates", len(c.scheduleDates))
	return c.scheduleDates, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
