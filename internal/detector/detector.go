// Package detector diffs a game's cached state against a fresh observation
// and produces the ordered notification events for that transition
package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/game-alerts/internal/domain"
)

// Observation is everything fetched about one game in one cycle
type Observation struct {
	Game domain.Game
	// Plays is the scoring timeline, meaningful only when PlaysAvailable is set
	Plays          []domain.ScoringPlay
	PlaysAvailable bool
}

// NeedsTimeline reports whether the scoring timeline should be fetched for g
func NeedsTimeline(g domain.Game) bool {
	info, ok := g.League.Info()
	if !ok || !info.Timeline {
		return false
	}
	return g.Status == domain.StatusLive || g.Status == domain.StatusFinal
}

// Detect returns the events implied by moving from prev to obs. Events are
// ordered gameStart, scoring plays in timeline order, periodEnd, gameEnd
// A nil prev yields no events
func Detect(prev *domain.CachedGameState, obs Observation) []domain.NotificationEvent {
	if prev == nil {
		return nil
	}
	curr := obs.Game
	var events []domain.NotificationEvent

	if prev.Status == domain.StatusScheduled && curr.Status == domain.StatusLive {
		events = append(events, baseEvent(domain.EventGameStart, curr))
	}

	events = append(events, scoringEvents(prev, obs)...)

	if curr.Period > prev.Period && prev.Period > 0 && periodCanEnd(prev.Status, curr.Status) {
		ev := baseEvent(domain.EventPeriodEnd, curr)
		// only the period immediately preceding the current one is reported
		ev.Period = curr.Period - 1
		ev.Description = fmt.Sprintf("End of %s", PeriodName(curr.League, ev.Period))
		events = append(events, ev)
	}

	if prev.Status == domain.StatusLive && curr.Status == domain.StatusFinal {
		ev := baseEvent(domain.EventGameEnd, curr)
		ev.Period = curr.Period
		events = append(events, ev)
	}

	return events
}

func periodCanEnd(prev, curr domain.GameStatus) bool {
	if curr == domain.StatusLive {
		return true
	}
	return curr == domain.StatusFinal && prev == domain.StatusLive
}

// NextState is the cached state to persist after observing obs
func NextState(prev *domain.CachedGameState, obs Observation, now time.Time) domain.CachedGameState {
	g := obs.Game
	next := domain.CachedGameState{
		GameID:      g.ID,
		League:      g.League,
		Status:      g.Status,
		HomeScore:   g.HomeScore,
		AwayScore:   g.AwayScore,
		Period:      g.Period,
		LastUpdated: now.UTC(),
	}
	switch {
	case obs.PlaysAvailable:
		next.ScoringPlaysCount = len(obs.Plays)
	case prev != nil:
		next.ScoringPlaysCount = prev.ScoringPlaysCount
	}
	return next
}

func baseEvent(t domain.EventType, g domain.Game) domain.NotificationEvent {
	return domain.NotificationEvent{
		Type:      t,
		GameID:    g.ID,
		League:    g.League,
		HomeTeam:  g.HomeTeam,
		AwayTeam:  g.AwayTeam,
		HomeScore: g.HomeScore,
		AwayScore: g.AwayScore,
		Period:    g.Period,
		PlayIndex: -1,
	}
}

func scoringEvents(prev *domain.CachedGameState, obs Observation) []domain.NotificationEvent {
	curr := obs.Game

	if obs.PlaysAvailable {
		if len(obs.Plays) <= prev.ScoringPlaysCount {
			return nil
		}
		start := max(prev.ScoringPlaysCount, 0)
		events := make([]domain.NotificationEvent, 0, len(obs.Plays)-start)
		for i := start; i < len(obs.Plays); i++ {
			var before *domain.ScoringPlay
			if i > 0 {
				before = &obs.Plays[i-1]
			}
			events = append(events, playEvent(curr, obs.Plays[i], before, i))
		}
		return events
	}

	homeDelta := curr.HomeScore - prev.HomeScore
	awayDelta := curr.AwayScore - prev.AwayScore
	if homeDelta <= 0 && awayDelta <= 0 {
		return nil
	}

	ev := baseEvent(domain.EventScoring, curr)
	ev.ScoringSide = domain.SideHome
	if awayDelta > homeDelta {
		ev.ScoringSide = domain.SideAway
	}
	delta := max(homeDelta, awayDelta)
	if curr.League.Sport() == domain.SportFootball {
		ev.ScoreType = scoreTypeFromDelta(delta)
	}
	ev.Description = fmt.Sprintf("%s scores. %s", ev.ScoringTeam(), scoreLine(curr.AwayTeam, curr.AwayScore, curr.HomeTeam, curr.HomeScore))
	return []domain.NotificationEvent{ev}
}

func playEvent(curr domain.Game, play domain.ScoringPlay, before *domain.ScoringPlay, index int) domain.NotificationEvent {
	ev := baseEvent(domain.EventScoring, curr)
	ev.PlayIndex = index
	ev.ScoringSide = play.ScoringTeam
	ev.Scorer = play.Scorer
	ev.Assists = play.Assists
	if play.Period > 0 {
		ev.Period = play.Period
	}
	if play.HomeScoreAfter > 0 || play.AwayScoreAfter > 0 {
		ev.HomeScore = play.HomeScoreAfter
		ev.AwayScore = play.AwayScoreAfter
	}

	switch curr.League.Sport() {
	case domain.SportHockey:
		ev.Strength = play.Strength
		if ev.Strength == domain.StrengthEven {
			ev.Strength = domain.StrengthFromText(play.TypeText + " " + play.Text)
		}
		ev.Description = hockeyDescription(ev)
	case domain.SportFootball:
		prevHome, prevAway := 0, 0
		if before != nil {
			prevHome, prevAway = before.HomeScoreAfter, before.AwayScoreAfter
		}
		delta := play.HomeScoreAfter - prevHome
		if play.ScoringTeam == domain.SideAway {
			delta = play.AwayScoreAfter - prevAway
		}
		ev.ScoreType = footballScoreType(play.TypeText+" "+play.Text, delta)
		ev.Description = play.Text
	default:
		ev.Description = play.Text
	}

	if ev.Description == "" {
		ev.Description = fmt.Sprintf("%s scores. %s", ev.ScoringTeam(), scoreLine(curr.AwayTeam, ev.AwayScore, curr.HomeTeam, ev.HomeScore))
	}
	return ev
}

func hockeyDescription(ev domain.NotificationEvent) string {
	if ev.Scorer == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(ev.Scorer)
	if len(ev.Assists) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ev.Assists, ", "))
		b.WriteString(")")
	} else {
		b.WriteString(" (unassisted)")
	}
	if label := StrengthLabel(ev.Strength); label != "" {
		b.WriteString(" - ")
		b.WriteString(label)
	}
	return b.String()
}

// StrengthLabel is the display text for a hockey strength tag
func StrengthLabel(s domain.Strength) string {
	switch s {
	case domain.StrengthPowerPlay:
		return "Power Play Goal"
	case domain.StrengthShorthanded:
		return "Shorthanded Goal"
	case domain.StrengthEmptyNet:
		return "Empty Net Goal"
	case domain.StrengthPenaltyShot:
		return "Penalty Shot Goal"
	case domain.StrengthOwnGoal:
		return "Own Goal"
	default:
		return ""
	}
}

// Football score type labels
const (
	ScoreTouchdown  = "TOUCHDOWN"
	ScoreFieldGoal  = "FIELD GOAL"
	ScoreSafety     = "SAFETY"
	ScoreTwoPoint   = "TWO-POINT"
	ScoreExtraPoint = "EXTRA POINT"
	ScoreGeneric    = "SCORE"
)

// footballScoreType reads keywords from the play text first and falls back to
// the point delta of the scoring side
func footballScoreType(text string, delta int) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "touchdown"):
		return ScoreTouchdown
	case strings.Contains(t, "field goal"):
		return ScoreFieldGoal
	case strings.Contains(t, "safety"):
		return ScoreSafety
	case strings.Contains(t, "two-point"), strings.Contains(t, "two point"), strings.Contains(t, "2-pt"):
		return ScoreTwoPoint
	case strings.Contains(t, "extra point"), hasWord(t, "pat"):
		return ScoreExtraPoint
	}
	return scoreTypeFromDelta(delta)
}

func scoreTypeFromDelta(delta int) string {
	switch delta {
	case 6, 7, 8:
		return ScoreTouchdown
	case 3:
		return ScoreFieldGoal
	case 2:
		return ScoreSafety
	case 1:
		return ScoreExtraPoint
	default:
		return ScoreGeneric
	}
}

func hasWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

func scoreLine(away string, awayScore int, home string, homeScore int) string {
	return fmt.Sprintf("%s %d, %s %d", away, awayScore, home, homeScore)
}

// PeriodName names a period the way its sport does, e.g. "2nd Period" or "3rd Quarter"
func PeriodName(league domain.League, period int) string {
	info, _ := league.Info()
	switch info.Sport {
	case domain.SportHockey:
		if period > 3 {
			if period == 4 {
				return "Overtime"
			}
			return fmt.Sprintf("%s Overtime", Ordinal(period-3))
		}
		return fmt.Sprintf("%s Period", Ordinal(period))
	case domain.SportFootball:
		if period > 4 {
			return "Overtime"
		}
		return fmt.Sprintf("%s Quarter", Ordinal(period))
	case domain.SportBasketball:
		if info.League == domain.LeagueNCAAB {
			if period > 2 {
				return "Overtime"
			}
			return fmt.Sprintf("%s Half", Ordinal(period))
		}
		if period > 4 {
			return "Overtime"
		}
		return fmt.Sprintf("%s Quarter", Ordinal(period))
	case domain.SportSoccer:
		if period > 2 {
			return "Extra Time"
		}
		return fmt.Sprintf("%s Half", Ordinal(period))
	case domain.SportBaseball:
		return fmt.Sprintf("%s Inning", Ordinal(period))
	default:
		return fmt.Sprintf("Period %d", period)
	}
}

// Ordinal formats n as 1st, 2nd, 3rd, 4th, 11th, 21st
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
