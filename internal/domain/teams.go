package domain

import "strings"

// nbaTeams maps tricode → franchise name as it appears in market outcome
// labels. Nicknames only; the market never uses city names for NBA.
var nbaTeams = map[string]string{
	"ATL": "Hawks",
	"BOS": "Celtics",
	"BKN": "Nets",
	"CHA": "Hornets",
	"CHI": "Bulls",
	"CLE": "Cavaliers",
	"DAL": "Mavericks",
	"DEN": "Nuggets",
	"DET": "Pistons",
	"GSW": "Warriors",
	"HOU": "Rockets",
	"IND": "Pacers",
	"LAC": "Clippers",
	"LAL": "Lakers",
	"MEM": "Grizzlies",
	"MIA": "Heat",
	"MIL": "Bucks",
	"MIN": "Timberwolves",
	"NOP": "Pelicans",
	"NYK": "Knicks",
	"OKC": "Thunder",
	"ORL": "Magic",
	"PHI": "76ers",
	"PHX": "Suns",
	"POR": "Trail Blazers",
	"SAC": "Kings",
	"SAS": "Spurs",
	"TOR": "Raptors",
	"UTA": "Jazz",
	"WAS": "Wizards",
}

var tricodeByName = func() map[string]string {
	m := make(map[string]string, len(nbaTeams))
	for code, name := range nbaTeams {
		m[strings.ToLower(name)] = code
	}
	return m
}()

// TeamName returns the franchise nickname for a tricode.
func TeamName(tricode string) (string, bool) {
	name, ok := nbaTeams[strings.ToUpper(tricode)]
	return name, ok
}

// TricodeForOutcome maps a market outcome label ("Celtics", "Boston
// Celtics") back to the tricode. Matches on the trailing nickname so city
// prefixes don't matter.
func TricodeForOutcome(label string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	if code, ok := tricodeByName[l]; ok {
		return code, true
	}
	for name, code := range tricodeByName {
		if strings.HasSuffix(l, name) {
			return code, true
		}
	}
	return "", false
}

// KnownTricode reports whether the tricode belongs to an NBA franchise.
func KnownTricode(tricode string) bool {
	_, ok := nbaTeams[strings.ToUpper(tricode)]
	return ok
}
