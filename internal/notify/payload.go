// Package notify renders notification events into push payloads using a
// per-sport phrasing table
package notify

import (
	"fmt"
	"strings"

	"github.com/game-alerts/internal/detector"
	"github.com/game-alerts/internal/domain"
)

type phrasing struct {
	start string
	// score returns the scoring headline; it may inspect the event
	score func(ev domain.NotificationEvent) string
}

func fixed(s string) func(domain.NotificationEvent) string {
	return func(domain.NotificationEvent) string { return s }
}

var phrasings = map[domain.Sport]phrasing{
	domain.SportHockey:     {start: "Puck Drop!", score: fixed("GOAL!")},
	domain.SportSoccer:     {start: "Kickoff!", score: fixed("GOAL!")},
	domain.SportBaseball:   {start: "Play Ball!", score: baseballScore},
	domain.SportBasketball: {start: "Tip-Off!", score: fixed("SCORE!")},
	domain.SportFootball:   {start: "Kickoff!", score: footballScore},
}

var fallback = phrasing{start: "Game On!", score: fixed("SCORE!")}

func footballScore(ev domain.NotificationEvent) string {
	if ev.ScoreType == "" || ev.ScoreType == detector.ScoreGeneric {
		return "SCORE!"
	}
	return ev.ScoreType + "!"
}

func baseballScore(ev domain.NotificationEvent) string {
	if strings.Contains(strings.ToLower(ev.Description), "home run") || strings.Contains(strings.ToLower(ev.Description), "homers") {
		return "HOME RUN!"
	}
	return "RUN!"
}

func phrasingFor(league domain.League) phrasing {
	info, ok := league.Info()
	if !ok {
		return fallback
	}
	if info.College && info.Sport == domain.SportBasketball {
		return phrasings[domain.SportBasketball]
	}
	if p, ok := phrasings[info.Sport]; ok {
		return p
	}
	return fallback
}

// Build renders the push payload for ev. clickBase prefixes the game link
func Build(ev domain.NotificationEvent, clickBase string) domain.Payload {
	p := phrasingFor(ev.League)
	line := ScoreLine(ev)

	var title, body string
	switch ev.Type {
	case domain.EventGameStart:
		title = p.start
		body = fmt.Sprintf("%s @ %s is underway", ev.AwayTeam, ev.HomeTeam)
	case domain.EventScoring:
		title = p.score(ev)
		if team := ev.ScoringTeam(); team != "" {
			title += " " + team
		}
		body = line
		if ev.Description != "" && !strings.HasSuffix(ev.Description, line) {
			body = ev.Description + "\n" + line
		} else if ev.Description != "" {
			body = ev.Description
		}
	case domain.EventPeriodEnd:
		title = "End of " + detector.PeriodName(ev.League, ev.Period)
		body = line
	case domain.EventGameEnd:
		title = "FINAL"
		body = line
		if w := winner(ev); w != "" {
			body = fmt.Sprintf("%s\n%s wins", line, w)
		}
	default:
		title = strings.ToUpper(string(ev.Type))
		body = line
	}

	return domain.Payload{
		Title:  title,
		Body:   body,
		GameID: ev.GameID,
		League: ev.League,
		Type:   ev.Type,
		URL:    GameURL(clickBase, ev.League, ev.GameID),
	}
}

// ScoreLine formats the away-first score, e.g. "NYR 2, BOS 3"
func ScoreLine(ev domain.NotificationEvent) string {
	return fmt.Sprintf("%s %d, %s %d", ev.AwayTeam, ev.AwayScore, ev.HomeTeam, ev.HomeScore)
}

// GameURL is the link opened when the notification is clicked
func GameURL(base string, league domain.League, gameID string) string {
	return fmt.Sprintf("%s/games/%s/%s", strings.TrimSuffix(base, "/"), league, gameID)
}

func winner(ev domain.NotificationEvent) string {
	switch {
	case ev.HomeScore > ev.AwayScore:
		return ev.HomeTeam
	case ev.AwayScore > ev.HomeScore:
		return ev.AwayTeam
	default:
		return ""
	}
}
