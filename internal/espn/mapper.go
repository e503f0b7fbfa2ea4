package espn

import (
	"strconv"
	"strings"
	"time"

	"github.com/game-alerts/internal/domain"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z",
}

func mapEvent(league domain.League, ev eventPayload) (domain.Game, bool) {
	if ev.ID == "" || len(ev.Competitions) == 0 {
		return domain.Game{}, false
	}
	comp := ev.Competitions[0]

	status := ev.Status
	if comp.Status != nil {
		status = *comp.Status
	}

	game := domain.Game{
		ID:        ev.ID,
		League:    league,
		Status:    mapStatus(status.Type),
		Period:    status.Period,
		Clock:     strings.TrimSpace(status.DisplayClock),
		StartTime: parseDate(firstNonEmpty(comp.Date, ev.Date)),
	}

	for _, c := range comp.Competitors {
		label := teamLabel(c.Team)
		score := parseScore(c.Score)
		switch strings.ToLower(c.HomeAway) {
		case "home":
			game.HomeTeam = label
			game.HomeScore = score
		case "away":
			game.AwayTeam = label
			game.AwayScore = score
		}
	}
	return game, true
}

// mapStatus folds the provider's state and status name into the five lifecycle states
func mapStatus(t statusTypePayload) domain.GameStatus {
	name := strings.ToUpper(t.Name)
	switch {
	case strings.Contains(name, "POSTPONED"), strings.Contains(name, "CANCELED"), strings.Contains(name, "CANCELLED"), strings.Contains(name, "SUSPENDED"):
		return domain.StatusPostponed
	case strings.Contains(name, "DELAYED"), strings.Contains(name, "RAIN_DELAY"):
		return domain.StatusDelayed
	}

	switch strings.ToLower(t.State) {
	case "in":
		return domain.StatusLive
	case "post":
		return domain.StatusFinal
	case "pre":
		return domain.StatusScheduled
	}
	if t.Completed {
		return domain.StatusFinal
	}
	return domain.StatusScheduled
}

// mapScoringPlays extracts the ordered scoring timeline from a game summary
// The dedicated scoringPlays list is preferred; otherwise the full play log is
// filtered down to scoring plays
func mapScoringPlays(resp summaryResponse) []domain.ScoringPlay {
	source := resp.ScoringPlays
	if len(source) == 0 {
		for _, p := range resp.Plays {
			if p.ScoringPlay {
				source = append(source, p)
			}
		}
	}

	homeID, homeAbbr := headerHomeTeam(resp.Header)

	plays := make([]domain.ScoringPlay, 0, len(source))
	prevHome, prevAway := 0, 0
	for _, p := range source {
		play := domain.ScoringPlay{
			Period:         p.Period.Number,
			Clock:          p.Clock.DisplayValue,
			TypeText:       p.Type.Text,
			HomeScoreAfter: p.HomeScore,
			AwayScoreAfter: p.AwayScore,
			Text:           strings.TrimSpace(p.Text),
		}
		if p.Team != nil {
			play.TeamLabel = teamLabel(*p.Team)
		}
		play.ScoringTeam = scoringSide(p, homeID, homeAbbr, prevHome, prevAway)
		if p.Strength != nil {
			play.Strength = domain.StrengthFromText(p.Strength.Text)
		}
		play.Scorer, play.Assists = participants(p.Participants)

		plays = append(plays, play)
		prevHome, prevAway = p.HomeScore, p.AwayScore
	}
	return plays
}

func headerHomeTeam(h headerPayload) (id, abbr string) {
	if len(h.Competitions) == 0 {
		return "", ""
	}
	for _, c := range h.Competitions[0].Competitors {
		if strings.EqualFold(c.HomeAway, "home") {
			return firstNonEmpty(c.Team.ID, c.ID), c.Team.Abbreviation
		}
	}
	return "", ""
}

// scoringSide matches the play's team against the home competitor and falls
// back to whichever side's score moved
func scoringSide(p playPayload, homeID, homeAbbr string, prevHome, prevAway int) domain.Side {
	if p.Team != nil && (homeID != "" || homeAbbr != "") {
		if (homeID != "" && p.Team.ID == homeID) || (homeAbbr != "" && strings.EqualFold(p.Team.Abbreviation, homeAbbr)) {
			return domain.SideHome
		}
		return domain.SideAway
	}
	if p.HomeScore-prevHome >= p.AwayScore-prevAway {
		return domain.SideHome
	}
	return domain.SideAway
}

func participants(ps []participantPayload) (scorer string, assists []string) {
	for i, p := range ps {
		name := firstNonEmpty(p.Athlete.DisplayName, p.Athlete.ShortName)
		if name == "" {
			continue
		}
		switch strings.ToLower(p.Type) {
		case "scorer", "batter", "goalscorer":
			if scorer == "" {
				scorer = name
			}
		case "assister", "assist":
			assists = append(assists, name)
		default:
			if i == 0 && scorer == "" {
				scorer = name
			}
		}
	}
	return scorer, assists
}

func teamLabel(t teamPayload) string {
	return firstNonEmpty(t.Abbreviation, t.ShortName, t.DisplayName)
}

func parseScore(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func parseDate(raw string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
