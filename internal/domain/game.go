package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// GameStatus codes as reported by the NBA scoreboard API.
const (
	GameScheduled  = 1
	GameInProgress = 2
	GameFinal      = 3
)

// Game is a scheduled NBA game as returned by discovery.
type Game struct {
	GameID      string
	AwayTeam    string // tricode, e.g. "LAL"
	HomeTeam    string
	TipoffUTC   time.Time
	Status      int
	StatusText  string // "Final", "Final/OT", "PPD", ...
	HomeScore   int
	AwayScore   int
}

// IsFinal reports whether the game has ended.
func (g Game) IsFinal() bool { return g.Status == GameFinal }

// IsPostponed detects postponed games from the status text.
// The scoreboard keeps status=1 for postponed games, only the text changes.
func (g Game) IsPostponed() bool {
	s := strings.ToUpper(g.StatusText)
	return strings.Contains(s, "PPD") || strings.Contains(s, "POSTPONED")
}

// WentToOvertime reports whether the final went past regulation.
func (g Game) WentToOvertime() bool {
	return g.IsFinal() && strings.Contains(strings.ToUpper(g.StatusText), "OT")
}

var slugRe = regexp.MustCompile(`^nba-([a-z]{3})-([a-z]{3})-(\d{4}-\d{2}-\d{2})$`)

// BuildEventSlug builds the Polymarket event slug for a game.
// Convention: nba-{away}-{home}-YYYY-MM-DD with the tipoff date in US Eastern.
func BuildEventSlug(away, home, gameDate string) string {
	if len(away) != 3 || len(home) != 3 {
		return ""
	}
	return fmt.Sprintf("nba-%s-%s-%s", strings.ToLower(away), strings.ToLower(home), gameDate)
}

// ParseEventSlug extracts (away, home, date) from an event slug.
func ParseEventSlug(slug string) (away, home, date string, err error) {
	m := slugRe.FindStringSubmatch(slug)
	if m == nil {
		return "", "", "", fmt.Errorf("domain.ParseEventSlug: bad slug %q", slug)
	}
	return m[1], m[2], m[3], nil
}

// EasternDate formats a UTC instant as the YYYY-MM-DD date in US Eastern.
// Slugs use the ET calendar date, not UTC — a 7:30pm ET tipoff is already
// the next day in UTC.
func EasternDate(t time.Time) string {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return t.UTC().Format("2006-01-02")
	}
	return t.In(loc).Format("2006-01-02")
}
