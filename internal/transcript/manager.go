package transcript

import (
	"sync"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/store"
)

// Manager keeps the live recorder of every session scope.
type Manager struct {
	mu        sync.Mutex
	st        store.Store
	timer     Timer
	timeout   time.Duration
	now       func() time.Time
	recorders map[string]*Recorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimer replaces the default SimpleTimer.
func WithTimer(t Timer) ManagerOption {
	return func(m *Manager) { m.timer = t }
}

// WithReplyTimeout overrides DefaultReplyTimeout.
func WithReplyTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager backed by st.
func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		st:        st,
		timer:     NewSimpleTimer(),
		timeout:   DefaultReplyTimeout,
		now:       time.Now,
		recorders: make(map[string]*Recorder),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recorder returns the recorder for scope and character, replacing a recorder
// bound to a different character.
func (m *Manager) Recorder(scope string, c models.Character) *Recorder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recorders[scope]; ok {
		if r.character.ID == c.ID {
			return r
		}
		r.Stop()
	}
	r := newRecorder(store.NewScoped(m.st, scope), c, m.timer, m.timeout, m.now)
	m.recorders[scope] = r
	return r
}

// Drop stops and forgets the recorder of scope.
func (m *Manager) Drop(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recorders[scope]; ok {
		r.Stop()
		delete(m.recorders, scope)
	}
}

// Active returns the number of live recorders.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorders)
}
