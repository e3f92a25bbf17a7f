package store

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/models"
)

// Persisted keys inside a session scope.
const (
	KeyCurrentIndex     = "currentIndex"
	KeyCurrentStage     = "currentStage"
	KeyRandomOrder      = "randomOrder"
	KeyOrderPosition    = "orderPosition"
	KeyUserID           = "userID"
	KeyCompletionCode   = "completionCode"
	KeyMessages         = "messages"
	KeyLastRedirectTime = "lastRedirectTime"
	KeyRedirectPending  = "redirectPending"
)

// Scoped gives typed access to the keys of one session scope.
//
// Reads never fail: a backend error or a malformed value is logged and the
// key's default is returned instead. Writes report errors to the caller.
type Scoped struct {
	st    Store
	scope string
}

// NewScoped binds a Store to one scope.
func NewScoped(st Store, scope string) *Scoped {
	return &Scoped{st: st, scope: scope}
}

// Scope returns the scope name.
func (s *Scoped) Scope() string {
	return s.scope
}

// Exists reports whether the scope holds any keys.
func (s *Scoped) Exists() bool {
	keys, err := s.st.Keys(s.scope)
	if err != nil {
		slog.Warn("Scoped.Exists: key listing failed", "scope", s.scope, "error", err)
		return false
	}
	return len(keys) > 0
}

// read applies the central fallback policy for raw reads.
func (s *Scoped) read(key string) (string, bool) {
	v, ok, err := s.st.Get(s.scope, key)
	if err != nil {
		slog.Warn("Scoped.read: falling back to default", "scope", s.scope, "key", key, "error", err)
		return "", false
	}
	return v, ok
}

func (s *Scoped) readInt(key string, def int) int {
	v, ok := s.read(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Scoped.readInt: malformed value, using default", "scope", s.scope, "key", key, "value", v)
		return def
	}
	return n
}

func (s *Scoped) readJSON(key string, dst interface{}) bool {
	v, ok := s.read(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		slog.Warn("Scoped.readJSON: malformed JSON, using default", "scope", s.scope, "key", key, "error", err)
		return false
	}
	return true
}

func (s *Scoped) writeJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.st.Set(s.scope, key, string(b))
}

// CurrentIndex returns the active character index, default 0.
func (s *Scoped) CurrentIndex() int {
	return s.readInt(KeyCurrentIndex, 0)
}

func (s *Scoped) SetCurrentIndex(i int) error {
	return s.st.Set(s.scope, KeyCurrentIndex, strconv.Itoa(i))
}

// CurrentStage returns the stored stage, default intro.
func (s *Scoped) CurrentStage() models.Stage {
	v, ok := s.read(KeyCurrentStage)
	if !ok {
		return models.StageIntro
	}
	stage := models.Stage(v)
	if !stage.Valid() {
		slog.Warn("Scoped.CurrentStage: unknown stage, using intro", "scope", s.scope, "value", v)
		return models.StageIntro
	}
	return stage
}

func (s *Scoped) SetCurrentStage(stage models.Stage) error {
	return s.st.Set(s.scope, KeyCurrentStage, string(stage))
}

// RandomOrder returns the stored main-study order, or nil if none was generated.
func (s *Scoped) RandomOrder() []int {
	var order []int
	if !s.readJSON(KeyRandomOrder, &order) || len(order) == 0 {
		return nil
	}
	return order
}

func (s *Scoped) SetRandomOrder(order []int) error {
	return s.writeJSON(KeyRandomOrder, order)
}

// OrderPosition returns the cursor into RandomOrder, default 0.
func (s *Scoped) OrderPosition() int {
	return s.readInt(KeyOrderPosition, 0)
}

func (s *Scoped) SetOrderPosition(p int) error {
	return s.st.Set(s.scope, KeyOrderPosition, strconv.Itoa(p))
}

// UserID returns the participant ID or "".
func (s *Scoped) UserID() string {
	v, _ := s.read(KeyUserID)
	return v
}

func (s *Scoped) SetUserID(id string) error {
	return s.st.Set(s.scope, KeyUserID, id)
}

// CompletionCode returns the final completion code or "".
func (s *Scoped) CompletionCode() string {
	v, _ := s.read(KeyCompletionCode)
	return v
}

func (s *Scoped) SetCompletionCode(code string) error {
	return s.st.Set(s.scope, KeyCompletionCode, code)
}

// Messages returns the character-keyed transcript map, never nil.
func (s *Scoped) Messages() map[string]models.Transcript {
	m := make(map[string]models.Transcript)
	if !s.readJSON(KeyMessages, &m) || m == nil {
		return make(map[string]models.Transcript)
	}
	return m
}

func (s *Scoped) SetMessages(m map[string]models.Transcript) error {
	return s.writeJSON(KeyMessages, m)
}

// ClearMessages drops every stored transcript.
func (s *Scoped) ClearMessages() error {
	return s.st.Delete(s.scope, KeyMessages)
}

// Transcript returns the stored transcript for one character, or an empty one.
func (s *Scoped) Transcript(characterID string) models.Transcript {
	t, ok := s.Messages()[characterID]
	if !ok {
		return models.EmptyTranscript()
	}
	if t.Message == nil {
		t.Message = []models.Turn{}
	}
	if t.SessionID == "" {
		t.SessionID = models.NoSessionID
	}
	return t
}

func (s *Scoped) SetTranscript(characterID string, t models.Transcript) error {
	m := s.Messages()
	m[characterID] = t
	return s.SetMessages(m)
}

// ResetTranscript stores the cleared form of a character's transcript if one exists.
func (s *Scoped) ResetTranscript(characterID string) error {
	m := s.Messages()
	if _, ok := m[characterID]; !ok {
		return nil
	}
	m[characterID] = models.EmptyTranscript()
	return s.SetMessages(m)
}

// LastRedirectTime returns the last recorded redirect and whether one exists.
func (s *Scoped) LastRedirectTime() (time.Time, bool) {
	v, ok := s.read(KeyLastRedirectTime)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Scoped.LastRedirectTime: malformed value", "scope", s.scope, "value", v)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Scoped) SetLastRedirectTime(t time.Time) error {
	return s.st.Set(s.scope, KeyLastRedirectTime, strconv.FormatInt(t.UnixMilli(), 10))
}

// RedirectPending reports whether a survey redirect was issued and not yet resumed from.
func (s *Scoped) RedirectPending() bool {
	v, _ := s.read(KeyRedirectPending)
	return v == "true"
}

func (s *Scoped) SetRedirectPending(pending bool) error {
	if !pending {
		return s.st.Delete(s.scope, KeyRedirectPending)
	}
	return s.st.Set(s.scope, KeyRedirectPending, "true")
}

// Snapshot reconstructs the persisted study state.
func (s *Scoped) Snapshot() models.StudyState {
	return models.StudyState{
		CurrentIndex:   s.CurrentIndex(),
		CurrentStage:   s.CurrentStage(),
		RandomOrder:    s.RandomOrder(),
		OrderPosition:  s.OrderPosition(),
		UserID:         s.UserID(),
		CompletionCode: s.CompletionCode(),
	}
}
