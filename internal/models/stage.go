// Package models defines the study stages and persisted study state.
package models

// Stage identifies one discrete phase of the study workflow.
type Stage string

// Stage constants, in the order participants move through them.
const (
	StageIntro               Stage = "intro"
	StagePracticeInstruction Stage = "practiceInstruction"
	StagePractice            Stage = "practice"
	StagePracticeComplete    Stage = "practiceComplete"
	StageMainStudy           Stage = "mainStudy"
	StageAIReadiness         Stage = "aiReadiness"
	StageFinalCode           Stage = "finalCode"
)

var stageOrder = map[Stage]int{
	StageIntro:               0,
	StagePracticeInstruction: 1,
	StagePractice:            2,
	StagePracticeComplete:    3,
	StageMainStudy:           4,
	StageAIReadiness:         5,
	StageFinalCode:           6,
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Rank returns the position of s in the fixed stage order, or -1 if s is unknown.
func (s Stage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// Before reports whether s comes strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// InSession reports whether the stage shows an avatar conversation.
func (s Stage) InSession() bool {
	return s == StagePractice || s == StageMainStudy
}

// StudyState is the persisted position of a participant in the study.
type StudyState struct {
	CurrentIndex   int    `json:"currentIndex"`
	CurrentStage   Stage  `json:"currentStage"`
	RandomOrder    []int  `json:"randomOrder"`
	OrderPosition  int    `json:"orderPosition"`
	UserID         string `json:"userID,omitempty"`
	CompletionCode string `json:"completionCode,omitempty"`
}
