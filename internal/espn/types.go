package espn

type scoreboardResponse struct {
	Events []eventPayload `json:"events"`
}

type eventPayload struct {
	ID           string               `json:"id"`
	Date         string               `json:"date"`
	Competitions []competitionPayload `json:"competitions"`
	Status       statusPayload        `json:"status"`
}

type competitionPayload struct {
	ID          string              `json:"id"`
	Date        string              `json:"date"`
	Competitors []competitorPayload `json:"competitors"`
	Status      *statusPayload      `json:"status"`
}

type competitorPayload struct {
	ID       string      `json:"id"`
	HomeAway string      `json:"homeAway"`
	Score    string      `json:"score"`
	Team     teamPayload `json:"team"`
}

type teamPayload struct {
	ID           string `json:"id"`
	Abbreviation string `json:"abbreviation"`
	DisplayName  string `json:"displayName"`
	ShortName    string `json:"shortDisplayName"`
}

type statusPayload struct {
	Period       int               `json:"period"`
	DisplayClock string            `json:"displayClock"`
	Type         statusTypePayload `json:"type"`
}

type statusTypePayload struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Completed bool   `json:"completed"`
}

type summaryResponse struct {
	Header       headerPayload `json:"header"`
	ScoringPlays []playPayload `json:"scoringPlays"`
	Plays        []playPayload `json:"plays"`
}

type headerPayload struct {
	Competitions []competitionPayload `json:"competitions"`
}

type playPayload struct {
	ID           string               `json:"id"`
	Text         string               `json:"text"`
	ScoringPlay  bool                 `json:"scoringPlay"`
	ScoreValue   int                  `json:"scoreValue"`
	HomeScore    int                  `json:"homeScore"`
	AwayScore    int                  `json:"awayScore"`
	Period       periodPayload        `json:"period"`
	Clock        clockPayload         `json:"clock"`
	Team         *teamPayload         `json:"team"`
	Type         textPayload          `json:"type"`
	Strength     *textPayload         `json:"strength"`
	Participants []participantPayload `json:"participants"`
}

type periodPayload struct {
	Number int `json:"number"`
}

type clockPayload struct {
	DisplayValue string `json:"displayValue"`
}

type textPayload struct {
	Text string `json:"text"`
}

type participantPayload struct {
	Type    string         `json:"type"`
	Athlete athletePayload `json:"athlete"`
}

type athletePayload struct {
	DisplayName string `json:"displayName"`
	ShortName   string `json:"shortName"`
}
