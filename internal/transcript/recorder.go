// Package transcript turns conversational SDK signals into durable, ordered
// transcripts and exports them as CSV.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/store"
)

// DefaultReplyTimeout is how long the recorder waits for an NPC reply after a user turn.
const DefaultReplyTimeout = 7000 * time.Millisecond

// ErrorReplyText is recorded when no NPC reply arrives within the reply timeout.
const ErrorReplyText = "Error in retrieving response. Please reset session."

// Recorder records one participant's conversation with one character.
// The store is the source of truth: every appended turn is written through
// before the call returns.
type Recorder struct {
	mu        sync.Mutex
	scoped    *store.Scoped
	character models.Character
	timer     Timer
	timeout   time.Duration
	now       func() time.Time

	npcSender  string
	timerID    string
	armed      bool
	generation uint64
}

func newRecorder(scoped *store.Scoped, c models.Character, timer Timer, timeout time.Duration, now func() time.Time) *Recorder {
	return &Recorder{
		scoped:    scoped,
		character: c,
		timer:     timer,
		timeout:   timeout,
		now:       now,
		npcSender: c.Name,
	}
}

// Character returns the character being recorded.
func (r *Recorder) Character() models.Character {
	return r.character
}

// Transcript returns the stored transcript for the character.
func (r *Recorder) Transcript() models.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scoped.Transcript(r.character.ID)
}

// ObserveUserTurn appends a participant turn and arms the reply timeout.
func (r *Recorder) ObserveUserTurn(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn := models.Turn{
		Sender:     models.SenderUser,
		Content:    content,
		Timestamp:  r.timestamp(),
		LLMModel:   models.LabelNotApplicable,
		LLMConduct: models.LabelNotApplicable,
		LLMNeuro:   models.LabelNotApplicable,
	}
	if err := r.appendLocked(turn); err != nil {
		return err
	}
	r.armLocked()
	return nil
}

// ObserveNPCTurn appends a character turn and cancels the pending reply timeout.
// An empty sender falls back to the character's name.
func (r *Recorder) ObserveNPCTurn(sender, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender != "" {
		r.npcSender = sender
	}
	r.cancelLocked()
	return r.appendLocked(r.npcTurn(content))
}

// Observe applies the recording rules to the client's current fields: a user
// turn when user text is present and the end-of-response flag is set, and an
// NPC turn when NPC text is present and the character is not talking.
// Recorded fields are cleared on the client so a turn is never recorded twice.
func (r *Recorder) Observe(c Client) (int, error) {
	recorded := 0
	if sid := c.SessionID(); sid != "" {
		if err := r.attachSession(sid); err != nil {
			return recorded, err
		}
	}
	if text := c.UserText(); text != "" && c.UserEndOfResponse() {
		if err := r.ObserveUserTurn(text); err != nil {
			return recorded, err
		}
		c.SetUserEndOfResponse(false)
		recorded++
	}
	if text := c.NPCText(); text != "" && !c.IsTalking() {
		sender := c.NPCName()
		if sender == "" {
			sender = c.CharacterID()
		}
		if err := r.ObserveNPCTurn(sender, text); err != nil {
			return recorded, err
		}
		c.SetNPCText("")
		recorded++
	}
	return recorded, nil
}

// Reset cancels the reply timeout, clears the stored transcript and resets the
// client's conversation session. A nil client only clears local state.
func (r *Recorder) Reset(ctx context.Context, c Client) error {
	r.mu.Lock()
	r.cancelLocked()
	err := r.scoped.ResetTranscript(r.character.ID)
	r.mu.Unlock()
	if err != nil {
		slog.Error("Recorder.Reset: failed to clear transcript", "scope", r.scoped.Scope(), "character", r.character.ID, "error", err)
		return err
	}
	if c != nil {
		if err := c.ResetSession(ctx); err != nil {
			slog.Warn("Recorder.Reset: client session reset failed", "character", r.character.ID, "error", err)
		}
		c.SetUserText("")
		c.SetNPCText("")
	}
	return nil
}

// Stop cancels any pending reply timeout without touching the transcript.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.cancelLocked()
	r.mu.Unlock()
}

// Armed reports whether a reply timeout is pending.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *Recorder) attachSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.scoped.Transcript(r.character.ID)
	if t.SessionID != models.NoSessionID {
		return nil
	}
	t.SessionID = sessionID
	return r.scoped.SetTranscript(r.character.ID, t)
}

func (r *Recorder) onTimeout(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed || gen != r.generation {
		return
	}
	r.armed = false
	r.timerID = ""
	slog.Warn("Recorder: no reply within timeout", "scope", r.scoped.Scope(), "character", r.character.ID, "timeout", r.timeout)
	if err := r.appendLocked(r.npcTurn(ErrorReplyText)); err != nil {
		slog.Error("Recorder: failed to record timeout turn", "scope", r.scoped.Scope(), "error", err)
	}
}

func (r *Recorder) armLocked() {
	r.cancelLocked()
	r.generation++
	gen := r.generation
	id, err := r.timer.ScheduleAfter(r.timeout, func() { r.onTimeout(gen) })
	if err != nil {
		slog.Error("Recorder: failed to arm reply timeout", "error", err)
		return
	}
	r.timerID = id
	r.armed = true
}

// cancelLocked disarms the timeout. Bumping the generation makes a callback
// that already fired but is waiting on mu a no-op.
func (r *Recorder) cancelLocked() {
	if !r.armed {
		return
	}
	r.generation++
	r.armed = false
	if r.timerID != "" {
		r.timer.Cancel(r.timerID)
		r.timerID = ""
	}
}

func (r *Recorder) npcTurn(content string) models.Turn {
	return models.Turn{
		Sender:     r.npcSender,
		Content:    content,
		Timestamp:  r.timestamp(),
		LLMModel:   r.character.LLM,
		LLMConduct: r.character.Conduct,
		LLMNeuro:   r.character.Neurodiversity,
	}
}

func (r *Recorder) appendLocked(turn models.Turn) error {
	t := r.scoped.Transcript(r.character.ID)
	t.Message = append(t.Message, turn)
	if err := r.scoped.SetTranscript(r.character.ID, t); err != nil {
		slog.Error("Recorder: failed to persist turn", "scope", r.scoped.Scope(), "character", r.character.ID, "error", err)
		return err
	}
	slog.Debug("Recorder: turn recorded", "scope", r.scoped.Scope(), "character", r.character.ID, "sender", turn.Sender, "turns", len(t.Message))
	return nil
}

func (r *Recorder) timestamp() string {
	return r.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
