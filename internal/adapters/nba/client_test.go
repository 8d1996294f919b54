package nba

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

const scoreboardFixture = `{
	"scoreboard": {
		"gameDate": "2026-01-15",
		"games": [
			{
				"gameId": "0022600551",
				"gameStatus": 3,
				"gameStatusText": "Final/OT",
				"gameTimeUTC": "2026-01-16T00:30:00Z",
				"period": 5,
				"homeTeam": {"teamTricode": "LAL", "score": 121},
				"awayTeam": {"teamTricode": "BOS", "score": 118}
			},
			{
				"gameId": "0022600552",
				"gameStatus": 1,
				"gameStatusText": "7:00 pm ET",
				"gameTimeUTC": "2026-01-16T00:00:00Z",
				"period": 0,
				"homeTeam": {"teamTricode": "MIA", "score": 0},
				"awayTeam": {"teamTricode": "NYK", "score": 0}
			}
		]
	}
}`

const scheduleFixture = `{
	"leagueSchedule": {
		"gameDates": [
			{
				"gameDate": "01/20/2026 00:00:00",
				"games": [
					{
						"gameId": "0022600601",
						"gameStatus": 1,
						"gameDateTimeUTC": "2026-01-21T00:00:00Z",
						"homeTeam": {"teamTricode": "DEN", "score": 0},
						"awayTeam": {"teamTricode": "GSW", "score": 0}
					},
					{
						"gameId": "0022600602",
						"gameStatus": 1,
						"gameDateTimeUTC": "2026-01-21T02:30:00Z",
						"homeTeam": {"teamTricode": "XXX", "score": 0},
						"awayTeam": {"teamTricode": "PHX", "score": 0}
					}
				]
			}
		]
	}
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/scoreboard":
			w.Write([]byte(scoreboardFixture))
		case "/schedule":
			w.Write([]byte(scheduleFixture))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGamesForDateToday(t *testing.T) {
	client := NewClient(newTestServer(t).URL)

	games, err := client.GamesForDate(context.Background(), domain.EasternDate(time.Now()))
	require.NoError(t, err)
	require.Len(t, games, 2)

	final := games[0]
	assert.Equal(t, "BOS", final.AwayTeam)
	assert.Equal(t, "LAL", final.HomeTeam)
	assert.True(t, final.IsFinal())
	assert.True(t, final.WentToOvertime())
	assert.Equal(t, 121, final.HomeScore)
	assert.Equal(t, 118, final.AwayScore)

	upcoming := games[1]
	assert.False(t, upcoming.IsFinal())
	assert.Equal(t, domain.GameScheduled, upcoming.Status)
	assert.Equal(t, time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), upcoming.TipoffUTC)
}

func TestGamesForFutureDate(t *testing.T) {
	client := NewClient(newTestServer(t).URL)

	games, err := client.GamesForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)

	// The exhibition against an unknown tricode is dropped.
	require.Len(t, games, 1)
	assert.Equal(t, "GSW", games[0].AwayTeam)
	assert.Equal(t, "DEN", games[0].HomeTeam)
	assert.Equal(t, domain.GameScheduled, games[0].Status)
}

func TestGamesForDateNoGames(t *testing.T) {
	client := NewClient(newTestServer(t).URL)

	games, err := client.GamesForDate(context.Background(), "2026-07-04")
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestScheduleCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(scheduleFixture))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.scheduleURL = srv.URL // both dates hit the same handler

	_, err := client.GamesForDate(context.Background(), "2026-01-20")
	require.NoError(t, err)
	_, err = client.GamesForDate(context.Background(), "2026-01-21")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "season schedule should be fetched once and cached")
}
