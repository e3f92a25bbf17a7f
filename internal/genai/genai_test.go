package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/transcript"
)

var _ transcript.Client = (*ConversationClient)(nil)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func reply(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testClient(chat chatService) *Client {
	return &Client{chat: chat, model: "test-model", models: DefaultModelMap(), temperature: 0.7, maxTokens: 100}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("Hello World")}
	client := testClient(mock)
	out, err := client.GenerateWithMessages(context.Background(), "LLM2", []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params) != 1 || mock.params[0].Model != "gpt-4o" {
		t.Errorf("expected LLM2 to use gpt-4o, got %+v", mock.params)
	}
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GenerateWithMessages(context.Background(), "LLM1", nil)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	client := testClient(&mockChatService{resp: &openai.ChatCompletion{}})
	_, err := client.GenerateWithMessages(context.Background(), "LLM1", nil)
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestModelFor(t *testing.T) {
	client := testClient(nil)
	if got := client.ModelFor("LLM4"); got != "gpt-4.1-nano" {
		t.Errorf("LLM4 -> %q", got)
	}
	if got := client.ModelFor("unknown"); got != "test-model" {
		t.Errorf("unknown label should use the default model, got %q", got)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("m"), WithTemperature(0.2), WithMaxTokens(50))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "m" || cli.temperature != 0.2 || cli.maxTokens != 50 {
		t.Errorf("options not applied: %+v", cli)
	}
}

func TestDebugLogging(t *testing.T) {
	dir := t.TempDir()
	client := testClient(&mockChatService{resp: reply("Test response")})
	client.debugMode = true
	client.stateDir = dir

	if _, err := client.GenerateWithMessages(context.Background(), "LLM1", []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")}); err != nil {
		t.Fatalf("GenerateWithMessages failed: %v", err)
	}
	files, err := os.ReadDir(filepath.Join(dir, "debug"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one debug file, got %v (%v)", files, err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "debug", files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}
	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}
	if entry["model"] != "gpt-4o-mini" {
		t.Errorf("Expected model 'gpt-4o-mini', got %v", entry["model"])
	}
}

func TestDebugLoggingDisabled(t *testing.T) {
	dir := t.TempDir()
	client := testClient(&mockChatService{resp: reply("Test response")})
	client.stateDir = dir

	if _, err := client.GenerateWithMessages(context.Background(), "LLM1", nil); err != nil {
		t.Fatalf("GenerateWithMessages failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "debug")); !os.IsNotExist(err) {
		t.Errorf("Debug directory should not be created when debug mode is disabled")
	}
}

var testCharacter = models.Character{
	ID:             "char-1",
	Name:           "Ava",
	LLM:            "LLM3",
	Conduct:        models.ConductNonCompliant,
	Neurodiversity: models.NeuroDivergent,
}

func TestConversationClient_AskRespond(t *testing.T) {
	mock := &mockChatService{resp: reply("Not now.")}
	cc := NewConversationClient(testClient(mock), testCharacter)

	cc.Ask("Can you help me?")
	if !cc.IsTalking() || !cc.UserEndOfResponse() || cc.UserText() != "Can you help me?" {
		t.Fatal("Ask did not publish the user turn")
	}
	got, err := cc.Respond(context.Background())
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if got != "Not now." || cc.NPCText() != "Not now." || cc.IsTalking() {
		t.Errorf("Respond did not publish the reply: %q", got)
	}
	if cc.Turns() != 2 {
		t.Errorf("expected 2 history messages, got %d", cc.Turns())
	}
	if len(mock.params) != 1 || len(mock.params[0].Messages) != 2 || mock.params[0].Model != "gpt-4.1-mini" {
		t.Errorf("unexpected request: %+v", mock.params)
	}
}

func TestConversationClient_RespondError(t *testing.T) {
	cc := NewConversationClient(testClient(&mockChatService{err: errors.New("boom")}), testCharacter)
	cc.Ask("hello")
	if _, err := cc.Respond(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if cc.NPCText() != "" || cc.IsTalking() {
		t.Error("failed generation should publish nothing and stop talking")
	}
}

func TestConversationClient_ResetSession(t *testing.T) {
	cc := NewConversationClient(testClient(&mockChatService{resp: reply("ok")}), testCharacter)
	before := cc.SessionID()
	cc.Ask("hello")
	cc.Respond(context.Background())
	if err := cc.ResetSession(context.Background()); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}
	if cc.SessionID() == before || cc.Turns() != 0 || cc.NPCText() != "" {
		t.Error("ResetSession did not start a fresh session")
	}
}

func TestPersonaPrompt(t *testing.T) {
	p := PersonaPrompt(testCharacter)
	if !strings.Contains(p, "Ava") || !strings.Contains(p, "reluctant") || !strings.Contains(p, "neurodivergent") {
		t.Errorf("persona prompt does not reflect labels: %q", p)
	}
}

func TestConversations_Get(t *testing.T) {
	cs := NewConversations(testClient(&mockChatService{resp: reply("ok")}))
	a := cs.Get("s1", testCharacter)
	if cs.Get("s1", testCharacter) != a {
		t.Error("same character should reuse the conversation")
	}
	other := testCharacter
	other.ID = "char-2"
	if cs.Get("s1", other) == a {
		t.Error("character change should start a new conversation")
	}
	cs.Drop("s1")
	if cs.Get("s1", other) == a {
		t.Error("Drop did not forget the conversation")
	}
}
