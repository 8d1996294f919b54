package nba

import (
	"time"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// Raw DTOs for the NBA.com JSON feeds.

type scoreboardResponse struct {
	Scoreboard struct {
		GameDate string            `json:"gameDate"`
		Games    []scoreboardGame  `json:"games"`
	} `json:"scoreboard"`
}

type scoreboardGame struct {
	GameID         string       `json:"gameId"`
	GameStatus     int          `json:"gameStatus"`
	GameStatusText string       `json:"gameStatusText"`
	GameTimeUTC    string       `json:"gameTimeUTC"`
	Period         int          `json:"period"`
	HomeTeam       scoreboardTeam `json:"homeTeam"`
	AwayTeam       scoreboardTeam `json:"awayTeam"`
}

type scoreboardTeam struct {
	TeamTricode string `json:"teamTricode"`
	Score       int    `json:"score"`
}

type scheduleResponse struct {
	LeagueSchedule struct {
		GameDates []scheduleGameDate `json:"gameDates"`
	} `json:"leagueSchedule"`
}

type scheduleGameDate struct {
	GameDate string         `json:"gameDate"`
	Games    []scheduleGame `json:"games"`
}

type scheduleGame struct {
	GameID          string         `json:"gameId"`
	GameStatus      int            `json:"gameStatus"`
	GameStatusText  string         `json:"gameStatusText"`
	GameDateTimeUTC string         `json:"gameDateTimeUTC"`
	HomeTeam        scoreboardTeam `json:"homeTeam"`
	AwayTeam        scoreboardTeam `json:"awayTeam"`
}

func mapScoreboardGame(g scoreboardGame) (domain.Game, bool) {
	if !domain.KnownTricode(g.HomeTeam.TeamTricode) || !domain.KnownTricode(g.AwayTeam.TeamTricode) {
		return domain.Game{}, false
	}
	return domain.Game{
		GameID:     g.GameID,
		AwayTeam:   g.AwayTeam.TeamTricode,
		HomeTeam:   g.HomeTeam.TeamTricode,
		TipoffUTC:  parseGameTime(g.GameTimeUTC),
		Status:     g.GameStatus,
		StatusText: g.GameStatusText,
		HomeScore:  g.HomeTeam.Score,
		AwayScore:  g.AwayTeam.Score,
	}, true
}

func mapScheduleGame(g scheduleGame) (domain.Game, bool) {
	if !domain.KnownTricode(g.HomeTeam.TeamTricode) || !domain.KnownTricode(g.AwayTeam.TeamTricode) {
		// Preseason exhibitions against non-NBA teams show up here.
		return domain.Game{}, false
	}
	status := g.GameStatus
	if status == 0 {
		status = domain.GameScheduled
	}
	return domain.Game{
		GameID:     g.GameID,
		AwayTeam:   g.AwayTeam.TeamTricode,
		HomeTeam:   g.HomeTeam.TeamTricode,
		TipoffUTC:  parseGameTime(g.GameDateTimeUTC),
		Status:     status,
		StatusText: g.GameStatusText,
		HomeScore:  g.HomeTeam.Score,
		AwayScore:  g.AwayTeam.Score,
	}, true
}

func parseGameTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
