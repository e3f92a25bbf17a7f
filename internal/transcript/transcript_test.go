package transcript

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/store"
)

// manualTimer captures scheduled callbacks so tests decide when they fire.
type manualTimer struct {
	mu        sync.Mutex
	next      int
	fns       map[string]func()
	cancelled []string
}

func newManualTimer() *manualTimer {
	return &manualTimer{fns: make(map[string]func())}
}

func (m *manualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := string(rune('a' + m.next))
	m.fns[id] = fn
	return id, nil
}

func (m *manualTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fns, id)
	m.cancelled = append(m.cancelled, id)
	return nil
}

// fireAll runs every pending callback.
func (m *manualTimer) fireAll() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.fns))
	for id, fn := range m.fns {
		fns = append(fns, fn)
		delete(m.fns, id)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

var testCharacter = models.Character{ID: "char-1", Name: "Harry", LLM: "LLM1", Conduct: "C", Neurodiversity: "NT"}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
}

func newTestRecorder(t *testing.T) (*Recorder, *manualTimer, *store.Scoped) {
	t.Helper()
	mem := store.NewInMemoryStore()
	timer := newManualTimer()
	m := NewManager(mem, WithTimer(timer), WithClock(fixedClock()))
	return m.Recorder("sess", testCharacter), timer, store.NewScoped(mem, "sess")
}

func TestToCSV_ExactFormat(t *testing.T) {
	turns := []models.Turn{{
		Sender:     "user",
		Content:    `He said "hi"`,
		Timestamp:  "2024-01-01T00:00:00Z",
		LLMModel:   "LLM1",
		LLMConduct: "C",
		LLMNeuro:   "NT",
	}}
	want := "timestamp,speaker,model,conduct,neurodiversity,content\n" +
		`"2024-01-01T00:00:00Z","user","LLM1","C","NT","He said ""hi"""`
	if got := ToCSV(turns); got != want {
		t.Errorf("unexpected CSV:\n got: %s\nwant: %s", got, want)
	}
	if got := ToCSV(nil); got != CSVHeader {
		t.Errorf("empty transcript should be header only, got %q", got)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	turns := []models.Turn{
		{Sender: "user", Content: `commas, "quotes", and more`, Timestamp: "2024-01-01T00:00:00.000Z", LLMModel: "N/A", LLMConduct: "N/A", LLMNeuro: "N/A"},
		{Sender: "Harry", Content: "line one\nline two", Timestamp: "2024-01-01T00:00:01.000Z", LLMModel: "LLM1", LLMConduct: "C", LLMNeuro: "NT"},
		{Sender: "Harry", Content: "", Timestamp: "2024-01-01T00:00:02.000Z", LLMModel: "LLM1", LLMConduct: "C", LLMNeuro: "NT"},
	}
	parsed, err := ParseCSV(ToCSV(turns))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(parsed))
	}
	for i := range turns {
		if parsed[i] != turns[i] {
			t.Errorf("turn %d mismatch: got %+v want %+v", i, parsed[i], turns[i])
		}
	}
}

func TestParseCSV_CRLFInContentBecomesLF(t *testing.T) {
	turns := []models.Turn{
		{Sender: "user", Content: "first\r\nsecond", Timestamp: "2024-01-01T00:00:00.000Z", LLMModel: "N/A", LLMConduct: "N/A", LLMNeuro: "N/A"},
	}
	out := ToCSV(turns)
	if !strings.Contains(out, "\"first\r\nsecond\"") {
		t.Fatalf("export must keep CRLF verbatim: %q", out)
	}
	parsed, err := ParseCSV(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Content != "first\nsecond" {
		t.Errorf("expected CRLF normalized to LF on parse, got %+v", parsed)
	}
}

func TestParseCSV_RejectsMissingHeader(t *testing.T) {
	if _, err := ParseCSV(`"a","b","c","d","e","f"`); err == nil {
		t.Error("expected error for missing header")
	}
}

func TestRecorder_UserAndNPCTurns(t *testing.T) {
	r, timer, scoped := newTestRecorder(t)

	client := NewSnapshotClient(Snapshot{CharacterID: testCharacter.ID, UserText: "hello", UserEndOfResponse: true})
	n, err := r.Observe(client)
	if err != nil || n != 1 {
		t.Fatalf("expected one recorded turn, got %d err=%v", n, err)
	}
	if client.UserEndOfResponse() {
		t.Error("end-of-response flag should be cleared after recording")
	}
	if !r.Armed() {
		t.Error("reply timeout should be armed after a user turn")
	}

	// Same snapshot again must not duplicate the turn.
	if n, _ := r.Observe(client); n != 0 {
		t.Errorf("expected no new turns, got %d", n)
	}

	client.SetNPCText("hi there")
	client.snap.NPCName = "Harry Potter"
	if n, err := r.Observe(client); err != nil || n != 1 {
		t.Fatalf("expected NPC turn, got %d err=%v", n, err)
	}
	if r.Armed() {
		t.Error("NPC turn should cancel the reply timeout")
	}
	if len(timer.cancelled) != 1 {
		t.Errorf("expected explicit cancel, got %v", timer.cancelled)
	}

	tr := scoped.Transcript(testCharacter.ID)
	if len(tr.Message) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(tr.Message))
	}
	user, npc := tr.Message[0], tr.Message[1]
	if !user.IsUser() || user.LLMModel != "N/A" || user.Timestamp != "2024-01-01T00:00:00.000Z" {
		t.Errorf("unexpected user turn: %+v", user)
	}
	if npc.Sender != "Harry Potter" || npc.LLMModel != "LLM1" || npc.LLMConduct != "C" || npc.LLMNeuro != "NT" {
		t.Errorf("unexpected npc turn: %+v", npc)
	}
}

func TestRecorder_NPCTalkingIsNotRecorded(t *testing.T) {
	r, _, scoped := newTestRecorder(t)
	client := NewSnapshotClient(Snapshot{CharacterID: testCharacter.ID, NPCText: "partial", IsTalking: true})
	if n, _ := r.Observe(client); n != 0 {
		t.Errorf("expected no turn while talking, got %d", n)
	}
	if len(scoped.Transcript(testCharacter.ID).Message) != 0 {
		t.Error("transcript should be empty")
	}
}

func TestRecorder_TimeoutAppendsErrorTurn(t *testing.T) {
	r, timer, scoped := newTestRecorder(t)
	if err := r.ObserveUserTurn("anyone there?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	timer.fireAll()

	tr := scoped.Transcript(testCharacter.ID)
	if len(tr.Message) != 2 {
		t.Fatalf("expected user turn plus error turn, got %d", len(tr.Message))
	}
	errTurn := tr.Message[1]
	if errTurn.Content != ErrorReplyText || errTurn.Sender != testCharacter.Name {
		t.Errorf("unexpected error turn: %+v", errTurn)
	}
	if r.Armed() {
		t.Error("timeout should be disarmed after firing")
	}
}

func TestRecorder_LateTimeoutAfterReplyIsIgnored(t *testing.T) {
	r, timer, scoped := newTestRecorder(t)
	r.ObserveUserTurn("hello")

	// Capture the callback as if it were already queued, then let the reply win.
	timer.mu.Lock()
	var queued func()
	for _, fn := range timer.fns {
		queued = fn
	}
	timer.mu.Unlock()

	r.ObserveNPCTurn("Harry", "hi")
	queued()

	tr := scoped.Transcript(testCharacter.ID)
	if len(tr.Message) != 2 {
		t.Fatalf("expected exactly user and npc turns, got %d", len(tr.Message))
	}
	for _, turn := range tr.Message {
		if turn.Content == ErrorReplyText {
			t.Error("stale timeout must not record an error turn")
		}
	}
}

func TestRecorder_ResetClearsTranscript(t *testing.T) {
	r, _, scoped := newTestRecorder(t)
	client := NewSnapshotClient(Snapshot{CharacterID: testCharacter.ID, SessionID: "sdk-42", UserText: "x", UserEndOfResponse: true})
	r.Observe(client)
	if tr := scoped.Transcript(testCharacter.ID); tr.SessionID != "sdk-42" {
		t.Errorf("expected session attached, got %q", tr.SessionID)
	}
	if err := r.Reset(context.Background(), client); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := scoped.Transcript(testCharacter.ID)
	if tr.SessionID != models.NoSessionID || len(tr.Message) != 0 {
		t.Errorf("expected cleared transcript, got %+v", tr)
	}
	if client.UserText() != "" || client.SessionID() != "" {
		t.Error("client fields should be cleared")
	}
	if r.Armed() {
		t.Error("reset should disarm the timeout")
	}
}

func TestManager_ReplacesRecorderOnCharacterChange(t *testing.T) {
	timer := newManualTimer()
	m := NewManager(store.NewInMemoryStore(), WithTimer(timer))
	r1 := m.Recorder("s", testCharacter)
	if m.Recorder("s", testCharacter) != r1 {
		t.Error("expected the same recorder for the same character")
	}
	r1.ObserveUserTurn("hi")
	other := testCharacter
	other.ID = "char-2"
	r2 := m.Recorder("s", other)
	if r2 == r1 {
		t.Error("expected a new recorder for a new character")
	}
	if r1.Armed() {
		t.Error("replaced recorder should be stopped")
	}
	m.Drop("s")
	if m.Active() != 0 {
		t.Errorf("expected no active recorders, got %d", m.Active())
	}
}

func TestSimpleTimer_FiresAndCancels(t *testing.T) {
	st := NewSimpleTimer()
	fired := make(chan struct{}, 1)
	if _, err := st.ScheduleAfter(5*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	id, _ := st.ScheduleAfter(time.Hour, func() { t.Error("cancelled timer fired") })
	st.Cancel(id)
	if st.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", st.Pending())
	}
	st.Stop()
}

func TestTimestampIsISO8601(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	if ts := r.timestamp(); !strings.HasSuffix(ts, "Z") || !strings.Contains(ts, "T") {
		t.Errorf("unexpected timestamp %q", ts)
	}
}
