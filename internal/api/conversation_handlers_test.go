package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/AvatarStudy/internal/api"
	"github.com/BTreeMap/AvatarStudy/internal/genai"
	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/testutil"
)

// scriptedGenerator replies with a fixed text or error.
type scriptedGenerator struct {
	reply  string
	err    error
	labels []string
}

func (g *scriptedGenerator) GenerateWithMessages(ctx context.Context, label string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	g.labels = append(g.labels, label)
	return g.reply, g.err
}

func TestChatHandler_RecordsBothTurns(t *testing.T) {
	gen := &scriptedGenerator{reply: "Nice to meet you."}
	env := testutil.NewTestServer(t, api.WithConversations(genai.NewConversations(gen)))
	key := createSession(t, env)
	event(t, env, key, "/begin", models.APIStatusOK)
	out := event(t, env, key, "/practice/start", models.APIStatusOK)

	rr := env.Do(t, http.MethodPost, "/sessions/"+key+"/chat", api.ChatRequest{Text: "  Hello!  "})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")
	var resp api.ChatResponse
	testutil.AssertJSONResponse(t, rr, models.APIStatusOK, &resp)

	if resp.Reply != "Nice to meet you." {
		t.Errorf("reply = %q", resp.Reply)
	}
	msgs := resp.Transcript.Message
	if len(msgs) != 2 || !msgs[0].IsUser() || msgs[0].Content != "Hello!" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
	if msgs[1].Sender != out.Character.Name || msgs[1].LLMModel != out.Character.LLM {
		t.Errorf("NPC turn not attributed to %s: %+v", out.Character.Name, msgs[1])
	}
	if resp.Transcript.SessionID == models.NoSessionID {
		t.Error("conversation session ID not attached")
	}
	if len(gen.labels) != 1 || gen.labels[0] != out.Character.LLM {
		t.Errorf("generator called with labels %v", gen.labels)
	}
}

func TestChatHandler_GenerationFailure(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("rate limited")}
	env := testutil.NewTestServer(t, api.WithConversations(genai.NewConversations(gen)))
	key := createSession(t, env)
	event(t, env, key, "/begin", models.APIStatusOK)
	event(t, env, key, "/practice/start", models.APIStatusOK)

	rr := env.Do(t, http.MethodPost, "/sessions/"+key+"/chat", api.ChatRequest{Text: "Hello"})
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "chat failure")

	// The participant turn stays recorded; the reply timeout will add the error turn.
	_, tr, err := env.Machine.Transcript(context.Background(), key)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if tr.UserTurnCount() != 1 || len(tr.Message) != 1 {
		t.Errorf("unexpected transcript after failure: %+v", tr.Message)
	}
}

func TestChatHandler_Validation(t *testing.T) {
	env := testutil.NewTestServer(t, api.WithConversations(genai.NewConversations(&scriptedGenerator{reply: "ok"})))
	key := createSession(t, env)

	rr := env.Do(t, http.MethodPost, "/sessions/"+key+"/chat", api.ChatRequest{Text: "   "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty text")

	// No conversation outside the practice and main study stages.
	rr = env.Do(t, http.MethodPost, "/sessions/"+key+"/chat", api.ChatRequest{Text: "hi"})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "chat at intro")
}
