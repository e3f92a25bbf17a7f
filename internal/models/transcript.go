package models

// SenderUser is the sender value recorded for participant turns.
const SenderUser = "user"

// LabelNotApplicable fills the model and condition labels on participant turns.
const LabelNotApplicable = "N/A"

// NoSessionID marks a transcript with no conversation session attached.
const NoSessionID = "-1"

// Turn is one timestamped utterance in a conversation transcript.
type Turn struct {
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"` // ISO-8601
	LLMModel   string `json:"llmModel"`
	LLMConduct string `json:"llmConduct"`
	LLMNeuro   string `json:"llmNeuro"`
}

// IsUser reports whether the turn was produced by the participant.
func (t Turn) IsUser() bool {
	return t.Sender == SenderUser
}

// Transcript is the stored conversation with one character.
type Transcript struct {
	SessionID string `json:"sessionID"`
	Message   []Turn `json:"message"`
}

// EmptyTranscript returns the cleared form of a transcript.
func EmptyTranscript() Transcript {
	return Transcript{SessionID: NoSessionID, Message: []Turn{}}
}

// UserTurnCount counts turns produced by the participant.
func (t Transcript) UserTurnCount() int {
	n := 0
	for _, turn := range t.Message {
		if turn.IsUser() {
			n++
		}
	}
	return n
}
