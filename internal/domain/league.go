package domain

import (
	"slices"
	"strings"
	"time"
)

// League identifies which competition a game belongs to
type League string

const (
	LeagueNHL   League = "nhl"
	LeagueNFL   League = "nfl"
	LeagueNBA   League = "nba"
	LeagueWNBA  League = "wnba"
	LeagueMLB   League = "mlb"
	LeagueMLS   League = "mls"
	LeagueEPL   League = "epl"
	LeagueNCAAF League = "ncaaf"
	LeagueNCAAB League = "ncaab"
	LeagueNCAAW League = "ncaaw"
)

// Sport groups leagues that share vocabulary and scoring rules
type Sport string

const (
	SportHockey     Sport = "hockey"
	SportFootball   Sport = "football"
	SportBasketball Sport = "basketball"
	SportBaseball   Sport = "baseball"
	SportSoccer     Sport = "soccer"
)

// LeagueInfo describes how a league is fetched and scheduled
type LeagueInfo struct {
	League League
	Sport  Sport
	// Path is the provider path segment, e.g. "hockey/nhl"
	Path string
	// Timeline reports whether scoring events are derived from the scoring-play timeline
	Timeline bool
	// Duration is a typical wall-clock length of a game
	Duration time.Duration
	College  bool
}

var leagues = map[League]LeagueInfo{
	LeagueNHL:   {League: LeagueNHL, Sport: SportHockey, Path: "hockey/nhl", Timeline: true, Duration: 3 * time.Hour},
	LeagueNFL:   {League: LeagueNFL, Sport: SportFootball, Path: "football/nfl", Timeline: true, Duration: 3*time.Hour + 30*time.Minute},
	LeagueNBA:   {League: LeagueNBA, Sport: SportBasketball, Path: "basketball/nba", Duration: 2*time.Hour + 30*time.Minute},
	LeagueWNBA:  {League: LeagueWNBA, Sport: SportBasketball, Path: "basketball/wnba", Duration: 2 * time.Hour},
	LeagueMLB:   {League: LeagueMLB, Sport: SportBaseball, Path: "baseball/mlb", Timeline: true, Duration: 3 * time.Hour},
	LeagueMLS:   {League: LeagueMLS, Sport: SportSoccer, Path: "soccer/usa.1", Timeline: true, Duration: 2 * time.Hour},
	LeagueEPL:   {League: LeagueEPL, Sport: SportSoccer, Path: "soccer/eng.1", Timeline: true, Duration: 2 * time.Hour},
	LeagueNCAAF: {League: LeagueNCAAF, Sport: SportFootball, Path: "football/college-football", Timeline: true, Duration: 3*time.Hour + 30*time.Minute, College: true},
	LeagueNCAAB: {League: LeagueNCAAB, Sport: SportBasketball, Path: "basketball/mens-college-basketball", Duration: 2 * time.Hour, College: true},
	LeagueNCAAW: {League: LeagueNCAAW, Sport: SportBasketball, Path: "basketball/womens-college-basketball", Duration: 2 * time.Hour, College: true},
}

// ParseLeague normalizes a league tag and reports whether it is supported
func ParseLeague(raw string) (League, bool) {
	l := League(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := leagues[l]
	return l, ok
}

// Info returns the registry entry for the league
func (l League) Info() (LeagueInfo, bool) {
	info, ok := leagues[l]
	return info, ok
}

// Sport returns the sport family, or an empty Sport for unknown leagues
func (l League) Sport() Sport {
	return leagues[l].Sport
}

// AllLeagues returns every supported league tag
func AllLeagues() []League {
	out := make([]League, 0, len(leagues))
	for l := range leagues {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}
