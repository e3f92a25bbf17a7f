package study

import (
	"fmt"
	"net/url"

	"github.com/BTreeMap/AvatarStudy/internal/models"
)

// Default survey forms participants are sent to between stages.
const (
	DefaultPrePracticeURL  = "https://uwmadison.co1.qualtrics.com/jfe/form/SV_9tMsWXBYiktt7uK"
	DefaultPerCharacterURL = "https://uwmadison.co1.qualtrics.com/jfe/form/SV_1EWpZcb7kNte62y"
	DefaultReadinessURL    = "https://uwmadison.co1.qualtrics.com/jfe/form/SV_ePcYyuNH4Esjnmu"
)

// Survey holds the external survey base URLs.
type Survey struct {
	PrePracticeURL  string `json:"prePracticeUrl"`  // after the intro
	PerCharacterURL string `json:"perCharacterUrl"` // after each main-study character
	ReadinessURL    string `json:"readinessUrl"`    // AI readiness questionnaire
}

// DefaultSurvey returns the survey forms used by the study.
func DefaultSurvey() Survey {
	return Survey{
		PrePracticeURL:  DefaultPrePracticeURL,
		PerCharacterURL: DefaultPerCharacterURL,
		ReadinessURL:    DefaultReadinessURL,
	}
}

// Validate checks that every URL parses as an absolute URL.
func (s Survey) Validate() error {
	for name, raw := range map[string]string{
		"pre-practice":  s.PrePracticeURL,
		"per-character": s.PerCharacterURL,
		"readiness":     s.ReadinessURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("invalid %s survey URL %q", name, raw)
		}
	}
	return nil
}

// PrePractice returns the redirect issued when the participant leaves the intro.
func (s Survey) PrePractice(userID string) string {
	return withQuery(s.PrePracticeURL, map[string]string{"userID": userID})
}

// AfterCharacter returns the redirect issued after a main-study conversation,
// tagged with the character's experimental condition labels.
func (s Survey) AfterCharacter(userID string, c models.Character) string {
	return withQuery(s.PerCharacterURL, map[string]string{
		"userID":                userID,
		"design_conduct":        c.Conduct,
		"design_neurodiversity": c.Neurodiversity,
	})
}

// Readiness returns the redirect to the AI readiness questionnaire.
func (s Survey) Readiness(userID string) string {
	return withQuery(s.ReadinessURL, map[string]string{"userID": userID})
}

func withQuery(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		// Validate runs at startup, so this only happens with an unchecked Survey.
		return base
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
