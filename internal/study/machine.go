// Package study implements the participant session state machine: it moves a
// participant from the intro through practice and the randomized main study to
// the completion code, persisting every step before the browser is redirected.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/roster"
	"github.com/BTreeMap/AvatarStudy/internal/store"
	"github.com/BTreeMap/AvatarStudy/internal/transcript"
	"github.com/BTreeMap/AvatarStudy/internal/upload"
	"github.com/BTreeMap/AvatarStudy/internal/util"
)

// Interaction gates and UI timings.
const (
	DefaultMinPracticeInteractions = 0
	DefaultMinMainInteractions     = 5
	WarningDuration                = 2000 * time.Millisecond

	practiceFilePrefix = "practiceHistory"
	mainFilePrefix     = "chatHistory"
)

// WarningInsufficientInteractions is shown when a gate blocks a transition.
const WarningInsufficientInteractions = "Please talk with the character a little more before moving on."

// Outcome is the result of a state machine event, returned to the browser.
type Outcome struct {
	State     models.StudyState `json:"state"`
	Character *models.Character `json:"character,omitempty"`

	// Redirect is the external survey the browser must navigate to. Every
	// store write of the event has completed before it is returned.
	Redirect string `json:"redirect,omitempty"`

	Warning       string `json:"warning,omitempty"`
	WarningMillis int64  `json:"warningMillis,omitempty"`

	InteractionCue    bool `json:"interactionCue,omitempty"`
	ResetConversation bool `json:"resetConversation,omitempty"`
	TranscriptCleared bool `json:"transcriptCleared,omitempty"`
	CloseWindow       bool `json:"closeWindow,omitempty"`
}

// Blocked reports whether the event was refused by an interaction gate.
func (o Outcome) Blocked() bool {
	return o.Warning != ""
}

// Machine drives participant sessions. It holds no per-participant state in
// memory beyond live transcript recorders; everything else is read from and
// written to the store on each event.
type Machine struct {
	st          store.Store
	roster      *roster.Roster
	uploader    upload.Uploader
	transcripts *transcript.Manager
	survey      Survey
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	minPractice int
	minMain     int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Machine.
type Option func(*Machine)

// WithSurvey overrides the default survey URLs.
func WithSurvey(s Survey) Option {
	return func(m *Machine) { m.survey = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithRand sets the random source used for the main-study order.
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rng = r }
}

// WithMinInteractions sets the participant-turn gates for practice and main study.
func WithMinInteractions(practice, main int) Option {
	return func(m *Machine) {
		m.minPractice = practice
		m.minMain = main
	}
}

// NewMachine builds a Machine. The transcript manager must share st.
func NewMachine(st store.Store, r *roster.Roster, up upload.Uploader, tm *transcript.Manager, opts ...Option) *Machine {
	m := &Machine{
		st:          st,
		roster:      r,
		uploader:    up,
		transcripts: tm,
		survey:      DefaultSurvey(),
		now:         time.Now,
		minPractice: DefaultMinPracticeInteractions,
		minMain:     DefaultMinMainInteractions,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Roster returns the character roster.
func (m *Machine) Roster() *roster.Roster {
	return m.roster
}

// Transcripts returns the transcript manager.
func (m *Machine) Transcripts() *transcript.Manager {
	return m.transcripts
}

// lock serializes events for one session key.
func (m *Machine) lock(key string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Machine) open(key string) (*store.Scoped, error) {
	sc := store.NewScoped(m.st, key)
	if key == "" || !sc.Exists() {
		return nil, models.ErrUnknownSession
	}
	return sc, nil
}

// NewSession creates a session scope at the intro stage and returns its key.
func (m *Machine) NewSession(ctx context.Context) (string, Outcome, error) {
	key := uuid.NewString()
	sc := store.NewScoped(m.st, key)
	if err := sc.SetCurrentStage(models.StageIntro); err != nil {
		return "", Outcome{}, fmt.Errorf("failed to create session: %w", err)
	}
	if err := sc.SetCurrentIndex(0); err != nil {
		return "", Outcome{}, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("Machine.NewSession: session created", "session", key)
	return key, m.outcome(sc), nil
}

// State returns the persisted state of a session without changing it.
func (m *Machine) State(ctx context.Context, key string) (Outcome, error) {
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	return m.outcome(sc), nil
}

// EnsureUserID returns the stored participant ID, generating and storing one
// only if none exists.
func (m *Machine) EnsureUserID(sc *store.Scoped) (string, error) {
	if id := sc.UserID(); id != "" {
		return id, nil
	}
	id := util.GenerateUserID(m.now())
	if err := sc.SetUserID(id); err != nil {
		return "", fmt.Errorf("failed to store user ID: %w", err)
	}
	slog.Info("Machine.EnsureUserID: participant ID generated", "session", sc.Scope(), "userID", id)
	return id, nil
}

// Begin leaves the intro: it makes sure the participant has an ID, records the
// practice instructions as the next stage and sends the participant to the
// pre-practice survey.
func (m *Machine) Begin(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireStage(sc, models.StageIntro); err != nil {
		return Outcome{}, err
	}
	userID, err := m.EnsureUserID(sc)
	if err != nil {
		return Outcome{}, err
	}
	if err := setStage(sc, models.StagePracticeInstruction); err != nil {
		return Outcome{}, err
	}
	out, err := m.redirect(sc, m.survey.PrePractice(userID))
	if err != nil {
		return Outcome{}, err
	}
	slog.Info("Machine.Begin: participant sent to pre-practice survey", "session", key, "userID", userID)
	return out, nil
}

// StartPractice shows the first practice character.
func (m *Machine) StartPractice(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireStage(sc, models.StagePracticeInstruction); err != nil {
		return Outcome{}, err
	}
	first := m.roster.PracticeIndices()[0]
	if err := setStage(sc, models.StagePractice); err != nil {
		return Outcome{}, err
	}
	if err := sc.SetCurrentIndex(first); err != nil {
		return Outcome{}, fmt.Errorf("failed to store current index: %w", err)
	}
	if err := m.resetCharacter(ctx, sc, first); err != nil {
		return Outcome{}, err
	}
	out := m.outcome(sc)
	out.InteractionCue = true
	out.ResetConversation = true
	slog.Info("Machine.StartPractice: practice started", "session", key, "index", first)
	return out, nil
}

// Next handles the in-session "Next"/"Questionnaire" action.
func (m *Machine) Next(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	switch stage := sc.CurrentStage(); stage {
	case models.StagePractice:
		return m.nextPractice(ctx, sc)
	case models.StageMainStudy:
		return m.nextMain(ctx, sc)
	default:
		return Outcome{}, fmt.Errorf("%w: next in %s", models.ErrInvalidStage, stage)
	}
}

func (m *Machine) nextPractice(ctx context.Context, sc *store.Scoped) (Outcome, error) {
	idx := sc.CurrentIndex()
	char, err := m.roster.At(idx)
	if err != nil {
		return Outcome{}, err
	}
	tr := sc.Transcript(char.ID)
	if n := tr.UserTurnCount(); n < m.minPractice {
		slog.Info("Machine.Next: practice gate not met", "session", sc.Scope(), "userTurns", n, "required", m.minPractice)
		return m.warn(sc), nil
	}

	m.uploadTranscript(ctx, upload.Filename(practiceFilePrefix, m.now(), sc.UserID()), tr)

	if err := m.resetCharacter(ctx, sc, idx); err != nil {
		return Outcome{}, err
	}
	practice := m.roster.PracticeIndices()
	pos := -1
	for i, p := range practice {
		if p == idx {
			pos = i
		}
	}
	if pos < 0 {
		slog.Warn("Machine.Next: current index is not a practice character, completing practice", "session", sc.Scope(), "index", idx)
	}
	if pos >= 0 && pos+1 < len(practice) {
		next := practice[pos+1]
		if err := sc.SetCurrentIndex(next); err != nil {
			return Outcome{}, fmt.Errorf("failed to store current index: %w", err)
		}
		out := m.outcome(sc)
		out.InteractionCue = true
		out.ResetConversation = true
		slog.Info("Machine.Next: next practice character", "session", sc.Scope(), "index", next)
		return out, nil
	}

	if err := setStage(sc, models.StagePracticeComplete); err != nil {
		return Outcome{}, err
	}
	out := m.outcome(sc)
	out.ResetConversation = true
	slog.Info("Machine.Next: practice complete", "session", sc.Scope())
	return out, nil
}

// StartMainStudy fixes the participant's random character order (once) and
// shows the first main-study character.
func (m *Machine) StartMainStudy(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireStage(sc, models.StagePracticeComplete); err != nil {
		return Outcome{}, err
	}

	order := sc.RandomOrder()
	if order != nil && !m.roster.IsPermutationOfMain(order) {
		slog.Warn("Machine.StartMainStudy: stored order does not match roster, regenerating", "session", key, "order", order)
		order = nil
	}
	if order == nil {
		order = m.randomOrder()
		if err := sc.SetRandomOrder(order); err != nil {
			return Outcome{}, fmt.Errorf("failed to store random order: %w", err)
		}
		slog.Info("Machine.StartMainStudy: random order generated", "session", key, "order", order)
	}

	if err := sc.SetOrderPosition(0); err != nil {
		return Outcome{}, fmt.Errorf("failed to store order position: %w", err)
	}
	if err := sc.SetCurrentIndex(order[0]); err != nil {
		return Outcome{}, fmt.Errorf("failed to store current index: %w", err)
	}
	if err := setStage(sc, models.StageMainStudy); err != nil {
		return Outcome{}, err
	}
	if err := m.clearAllTranscripts(sc); err != nil {
		return Outcome{}, err
	}
	out := m.outcome(sc)
	out.InteractionCue = true
	out.ResetConversation = true
	return out, nil
}

func (m *Machine) nextMain(ctx context.Context, sc *store.Scoped) (Outcome, error) {
	idx := sc.CurrentIndex()
	char, err := m.roster.At(idx)
	if err != nil {
		return Outcome{}, err
	}
	tr := sc.Transcript(char.ID)
	if n := tr.UserTurnCount(); n < m.minMain {
		slog.Info("Machine.Next: main study gate not met", "session", sc.Scope(), "userTurns", n, "required", m.minMain)
		return m.warn(sc), nil
	}
	order := sc.RandomOrder()
	if len(order) == 0 {
		return Outcome{}, models.ErrEmptyRandomOrder
	}

	userID, err := m.EnsureUserID(sc)
	if err != nil {
		return Outcome{}, err
	}
	pos := orderPosition(sc, order, idx)
	m.uploadTranscript(ctx, upload.Filename(mainFilePrefix, m.now(), userID, strconv.Itoa(pos)), tr)

	if err := m.clearAllTranscripts(sc); err != nil {
		return Outcome{}, err
	}

	// The survey is about the character just completed.
	target := m.survey.AfterCharacter(userID, char)
	newPos := pos + 1
	if newPos < len(order) {
		if err := sc.SetOrderPosition(newPos); err != nil {
			return Outcome{}, fmt.Errorf("failed to store order position: %w", err)
		}
		if err := sc.SetCurrentIndex(order[newPos]); err != nil {
			return Outcome{}, fmt.Errorf("failed to store current index: %w", err)
		}
		slog.Info("Machine.Next: main study character completed", "session", sc.Scope(), "position", newPos, "of", len(order))
	} else {
		if err := setStage(sc, models.StageAIReadiness); err != nil {
			return Outcome{}, err
		}
		// Position and index go back to the start of the order so a resumed
		// session has a valid character.
		if err := sc.SetOrderPosition(0); err != nil {
			return Outcome{}, fmt.Errorf("failed to store order position: %w", err)
		}
		if err := sc.SetCurrentIndex(order[0]); err != nil {
			return Outcome{}, fmt.Errorf("failed to store current index: %w", err)
		}
		slog.Info("Machine.Next: main study complete", "session", sc.Scope(), "characters", len(order))
	}
	out, err := m.redirect(sc, target)
	if err != nil {
		return Outcome{}, err
	}
	out.ResetConversation = true
	return out, nil
}

// FinishReadiness generates the completion code and sends the participant to
// the AI readiness survey. The final stage shows the code on return.
func (m *Machine) FinishReadiness(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireStage(sc, models.StageAIReadiness); err != nil {
		return Outcome{}, err
	}
	userID, err := m.EnsureUserID(sc)
	if err != nil {
		return Outcome{}, err
	}
	code := util.GenerateCompletionCode()
	if err := sc.SetCompletionCode(code); err != nil {
		return Outcome{}, fmt.Errorf("failed to store completion code: %w", err)
	}
	if err := setStage(sc, models.StageFinalCode); err != nil {
		return Outcome{}, err
	}
	slog.Info("Machine.FinishReadiness: completion code issued", "session", key, "userID", userID)
	return m.redirect(sc, m.survey.Readiness(userID))
}

// Finish acknowledges the final screen; the browser closes the window.
func (m *Machine) Finish(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if err := requireStage(sc, models.StageFinalCode); err != nil {
		return Outcome{}, err
	}
	m.transcripts.Drop(key)
	out := m.outcome(sc)
	out.CloseWindow = true
	return out, nil
}

// Resume is called when the browser loads the app, including on return from
// a survey. It ensures a participant ID exists and, when the participant
// comes back from a per-character survey into the main study, clears any
// transcript data left from before the redirect.
func (m *Machine) Resume(ctx context.Context, key string) (Outcome, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := m.EnsureUserID(sc); err != nil {
		return Outcome{}, err
	}
	pending := sc.RedirectPending()
	cleared := false
	if pending && sc.CurrentStage() == models.StageMainStudy {
		if err := m.clearAllTranscripts(sc); err != nil {
			return Outcome{}, err
		}
		cleared = true
		slog.Info("Machine.Resume: returned from survey, transcripts cleared", "session", key)
	}
	if pending {
		if err := sc.SetRedirectPending(false); err != nil {
			return Outcome{}, fmt.Errorf("failed to clear redirect flag: %w", err)
		}
	}
	out := m.outcome(sc)
	out.TranscriptCleared = cleared
	out.ResetConversation = cleared
	out.InteractionCue = cleared
	return out, nil
}

// WithRecorder runs fn with the transcript recorder of the active character,
// holding the session lock so turns cannot interleave with a transition's
// upload and transcript reset. A non-empty characterID must name the active
// character, otherwise ErrInactiveCharacter is returned and fn is not called.
func (m *Machine) WithRecorder(ctx context.Context, key, characterID string, fn func(*transcript.Recorder) error) (models.Character, error) {
	defer m.lock(key)()
	sc, err := m.open(key)
	if err != nil {
		return models.Character{}, err
	}
	if stage := sc.CurrentStage(); !stage.InSession() {
		return models.Character{}, fmt.Errorf("%w: no conversation in %s", models.ErrInvalidStage, stage)
	}
	char, err := m.roster.At(sc.CurrentIndex())
	if err != nil {
		return models.Character{}, err
	}
	if characterID != "" && characterID != char.ID {
		return char, fmt.Errorf("%w: %s (active %s)", models.ErrInactiveCharacter, characterID, char.ID)
	}
	return char, fn(m.transcripts.Recorder(key, char))
}

// Observe applies the recording rules to c for the active character. See
// WithRecorder for the locking and character check.
func (m *Machine) Observe(ctx context.Context, key, characterID string, c transcript.Client) (int, models.Character, error) {
	n := 0
	char, err := m.WithRecorder(ctx, key, characterID, func(rec *transcript.Recorder) error {
		var err error
		n, err = rec.Observe(c)
		return err
	})
	return n, char, err
}

// Transcript returns the stored transcript of the active character.
func (m *Machine) Transcript(ctx context.Context, key string) (models.Character, models.Transcript, error) {
	sc, err := m.open(key)
	if err != nil {
		return models.Character{}, models.Transcript{}, err
	}
	char, err := m.roster.At(sc.CurrentIndex())
	if err != nil {
		return models.Character{}, models.Transcript{}, err
	}
	return char, sc.Transcript(char.ID), nil
}

// uploadTranscript exports the transcript. Failures are logged and never
// block the transition.
func (m *Machine) uploadTranscript(ctx context.Context, filename string, tr models.Transcript) {
	if m.uploader == nil {
		slog.Warn("Machine: no uploader configured, transcript not exported", "filename", filename)
		return
	}
	if err := m.uploader.Upload(ctx, filename, transcript.ToCSV(tr.Message)); err != nil {
		slog.Error("Machine: transcript upload failed, continuing", "filename", filename, "error", err)
		return
	}
	slog.Debug("Machine: transcript uploaded", "filename", filename, "turns", len(tr.Message))
}

// resetCharacter clears the stored transcript of one character and stops its recorder.
func (m *Machine) resetCharacter(ctx context.Context, sc *store.Scoped, idx int) error {
	char, err := m.roster.At(idx)
	if err != nil {
		return err
	}
	if err := m.transcripts.Recorder(sc.Scope(), char).Reset(ctx, nil); err != nil {
		return fmt.Errorf("failed to reset transcript: %w", err)
	}
	return nil
}

func (m *Machine) clearAllTranscripts(sc *store.Scoped) error {
	m.transcripts.Drop(sc.Scope())
	if err := sc.ClearMessages(); err != nil {
		return fmt.Errorf("failed to clear transcripts: %w", err)
	}
	return nil
}

// redirect records the pending navigation and builds the outcome carrying it.
func (m *Machine) redirect(sc *store.Scoped, target string) (Outcome, error) {
	if err := sc.SetLastRedirectTime(m.now()); err != nil {
		return Outcome{}, fmt.Errorf("failed to store redirect time: %w", err)
	}
	if err := sc.SetRedirectPending(true); err != nil {
		return Outcome{}, fmt.Errorf("failed to store redirect flag: %w", err)
	}
	out := m.outcome(sc)
	out.Redirect = target
	return out, nil
}

func (m *Machine) warn(sc *store.Scoped) Outcome {
	out := m.outcome(sc)
	out.Warning = WarningInsufficientInteractions
	out.WarningMillis = WarningDuration.Milliseconds()
	return out
}

func (m *Machine) outcome(sc *store.Scoped) Outcome {
	state := sc.Snapshot()
	out := Outcome{State: state}
	if state.CurrentStage.InSession() {
		if c, err := m.roster.At(state.CurrentIndex); err == nil {
			out.Character = &c
		}
	}
	return out
}

func (m *Machine) randomOrder() []int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.roster.RandomOrder(m.rng)
}

// orderPosition returns the stored position when it lies inside order.
// Otherwise the position of idx in order is used, or 0 when idx is not in it.
func orderPosition(sc *store.Scoped, order []int, idx int) int {
	pos := sc.OrderPosition()
	if pos >= 0 && pos < len(order) {
		return pos
	}
	repaired := 0
	for i, v := range order {
		if v == idx {
			repaired = i
			break
		}
	}
	slog.Warn("order position out of range, repaired", "session", sc.Scope(), "stored", pos, "repaired", repaired, "orderLength", len(order))
	return repaired
}

func requireStage(sc *store.Scoped, want models.Stage) error {
	if got := sc.CurrentStage(); got != want {
		return fmt.Errorf("%w: expected %s, current is %s", models.ErrInvalidStage, want, got)
	}
	return nil
}

// setStage persists a forward stage transition.
func setStage(sc *store.Scoped, to models.Stage) error {
	from := sc.CurrentStage()
	if to.Before(from) {
		return fmt.Errorf("%w: %s to %s", models.ErrStageRegression, from, to)
	}
	if err := sc.SetCurrentStage(to); err != nil {
		return fmt.Errorf("failed to store stage: %w", err)
	}
	slog.Debug("stage transition", "session", sc.Scope(), "from", from, "to", to)
	return nil
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, models.ErrInvalidStage) ||
		errors.Is(err, models.ErrStageRegression) ||
		errors.Is(err, models.ErrUnknownSession) ||
		errors.Is(err, models.ErrInactiveCharacter)
}
