package transcript

import (
	"context"
	"sync"
)

// Client is the capability contract every conversational SDK adapter provides.
// The recorder only reads the text and flag fields and clears them once a turn
// has been recorded.
type Client interface {
	UserText() string
	NPCText() string
	UserEndOfResponse() bool
	IsTalking() bool
	NPCName() string
	CharacterID() string
	SessionID() string

	SetUserText(text string)
	SetNPCText(text string)
	SetUserEndOfResponse(done bool)
	// ResetSession starts a fresh conversation with the character.
	ResetSession(ctx context.Context) error
}

// Snapshot is the SDK state the browser reports after each SDK event.
type Snapshot struct {
	CharacterID       string `json:"characterId"`
	SessionID         string `json:"sessionId,omitempty"`
	NPCName           string `json:"npcName,omitempty"`
	UserText          string `json:"userText"`
	NPCText           string `json:"npcText"`
	UserEndOfResponse bool   `json:"userEndOfResponse"`
	IsTalking         bool   `json:"isTalking"`
}

// SnapshotClient is a Client whose fields come from browser-reported snapshots.
// The conversation itself runs in the browser SDK, so ResetSession only clears
// local fields; the browser resets its own session when told to.
type SnapshotClient struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewSnapshotClient wraps a reported snapshot.
func NewSnapshotClient(s Snapshot) *SnapshotClient {
	return &SnapshotClient{snap: s}
}

func (c *SnapshotClient) UserText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.UserText
}

func (c *SnapshotClient) NPCText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.NPCText
}

func (c *SnapshotClient) UserEndOfResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.UserEndOfResponse
}

func (c *SnapshotClient) IsTalking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.IsTalking
}

func (c *SnapshotClient) NPCName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.NPCName
}

func (c *SnapshotClient) CharacterID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.CharacterID
}

func (c *SnapshotClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.SessionID
}

func (c *SnapshotClient) SetUserText(text string) {
	c.mu.Lock()
	c.snap.UserText = text
	c.mu.Unlock()
}

func (c *SnapshotClient) SetNPCText(text string) {
	c.mu.Lock()
	c.snap.NPCText = text
	c.mu.Unlock()
}

func (c *SnapshotClient) SetUserEndOfResponse(done bool) {
	c.mu.Lock()
	c.snap.UserEndOfResponse = done
	c.mu.Unlock()
}

func (c *SnapshotClient) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	c.snap.UserText = ""
	c.snap.NPCText = ""
	c.snap.UserEndOfResponse = false
	c.snap.SessionID = ""
	c.mu.Unlock()
	return nil
}

// State returns a copy of the current snapshot.
func (c *SnapshotClient) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}
