package models

// Experimental condition labels.
const (
	ConductCompliant    = "C"
	ConductNonCompliant = "NC"
	NeuroTypical        = "NT"
	NeuroDivergent      = "ND"
)

// Character is one avatar identity in the study roster.
type Character struct {
	ID             string `json:"id"`             // conversational SDK character ID
	Name           string `json:"name"`           // display and visual model name
	LLM            string `json:"llm"`            // assigned conversational model label
	Conduct        string `json:"conduct"`        // C or NC
	Neurodiversity string `json:"neurodiversity"` // NT or ND
	Practice       bool   `json:"practice,omitempty"`
}

// Validate checks the condition labels and required fields.
func (c Character) Validate() error {
	if c.ID == "" || c.Name == "" || c.LLM == "" {
		return ErrInvalidRoster
	}
	if c.Conduct != ConductCompliant && c.Conduct != ConductNonCompliant {
		return ErrInvalidRoster
	}
	if c.Neurodiversity != NeuroTypical && c.Neurodiversity != NeuroDivergent {
		return ErrInvalidRoster
	}
	return nil
}
