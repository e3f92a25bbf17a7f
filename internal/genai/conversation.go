package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"

	"github.com/BTreeMap/AvatarStudy/internal/models"
)

// Generator produces a reply for a conversation. *Client is the production Generator.
type Generator interface {
	GenerateWithMessages(ctx context.Context, label string, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// ConversationClient plays one roster character. It exposes the same fields
// as the avatar SDK so the transcript recorder treats both alike.
type ConversationClient struct {
	mu        sync.Mutex
	gen       Generator
	character models.Character
	system    string
	history   []openai.ChatCompletionMessageParamUnion

	sessionID         string
	userText          string
	npcText           string
	userEndOfResponse bool
	talking           bool
}

// NewConversationClient creates a conversation with character c.
func NewConversationClient(gen Generator, c models.Character) *ConversationClient {
	return &ConversationClient{
		gen:       gen,
		character: c,
		system:    PersonaPrompt(c),
		sessionID: uuid.NewString(),
	}
}

// PersonaPrompt builds the system prompt for a character from its condition labels.
func PersonaPrompt(c models.Character) string {
	conduct := "You are friendly, cooperative and follow the conversation the user wants to have."
	if c.Conduct == models.ConductNonCompliant {
		conduct = "You are reluctant and often do not do what the user asks, though you stay civil."
	}
	neuro := "Your communication style is neurotypical."
	if c.Neurodiversity == models.NeuroDivergent {
		neuro = "Your communication style is neurodivergent: you are literal, direct, and sometimes return to topics you care about."
	}
	return fmt.Sprintf("You are %s, a character in a spoken conversation. %s %s Keep replies short, one to three sentences, with no markup.", c.Name, conduct, neuro)
}

// Character returns the character played by the client.
func (c *ConversationClient) Character() models.Character {
	return c.character
}

// SetUserText sets the participant's utterance.
func (c *ConversationClient) SetUserText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userText = text
}

// SetNPCText sets the character's utterance.
func (c *ConversationClient) SetNPCText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.npcText = text
}

// SetUserEndOfResponse marks the participant's utterance as complete.
func (c *ConversationClient) SetUserEndOfResponse(done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userEndOfResponse = done
}

func (c *ConversationClient) UserText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userText
}

func (c *ConversationClient) NPCText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.npcText
}

func (c *ConversationClient) UserEndOfResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userEndOfResponse
}

func (c *ConversationClient) IsTalking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.talking
}

func (c *ConversationClient) NPCName() string {
	return c.character.Name
}

func (c *ConversationClient) CharacterID() string {
	return c.character.ID
}

func (c *ConversationClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Ask submits a complete participant utterance. The character is talking
// until Respond returns.
func (c *ConversationClient) Ask(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userText = text
	c.userEndOfResponse = true
	c.talking = true
	c.history = append(c.history, openai.UserMessage(text))
}

// Respond generates the character's reply to the conversation so far and
// publishes it as NPC text. On error no reply is published.
func (c *ConversationClient) Respond(ctx context.Context) (string, error) {
	c.mu.Lock()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.history)+1)
	messages = append(messages, openai.SystemMessage(c.system))
	messages = append(messages, c.history...)
	c.mu.Unlock()

	reply, err := c.gen.GenerateWithMessages(ctx, c.character.LLM, messages)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.talking = false
	if err != nil {
		slog.Error("ConversationClient.Respond: generation failed", "character", c.character.ID, "error", err)
		return "", err
	}
	c.history = append(c.history, openai.AssistantMessage(reply))
	c.npcText = reply
	return reply, nil
}

// ResetSession forgets the conversation and starts a new session.
func (c *ConversationClient) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.userText = ""
	c.npcText = ""
	c.userEndOfResponse = false
	c.talking = false
	c.sessionID = uuid.NewString()
	slog.Debug("ConversationClient.ResetSession: session reset", "character", c.character.ID, "session", c.sessionID)
	return nil
}

// Turns returns the number of messages exchanged in the current session.
func (c *ConversationClient) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Conversations keeps the active ConversationClient of every session scope.
type Conversations struct {
	mu      sync.Mutex
	gen     Generator
	clients map[string]*ConversationClient
}

// NewConversations creates a registry of conversations backed by gen.
func NewConversations(gen Generator) *Conversations {
	return &Conversations{gen: gen, clients: make(map[string]*ConversationClient)}
}

// Get returns the conversation of scope with character c, starting a new one
// when the scope has none or is talking to another character.
func (cs *Conversations) Get(scope string, c models.Character) *ConversationClient {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cc, ok := cs.clients[scope]; ok && cc.character.ID == c.ID {
		return cc
	}
	cc := NewConversationClient(cs.gen, c)
	cs.clients[scope] = cc
	return cc
}

// Drop forgets the conversation of scope.
func (cs *Conversations) Drop(scope string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.clients, scope)
}
