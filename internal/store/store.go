// Package store provides storage backends for AvatarStudy.
//
// Every backend is a string-keyed, string-valued store partitioned into scopes.
// A scope holds the persisted state of one participant session, mirroring the
// per-browser storage the front-end used to keep.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Store is the persistence contract shared by all backends.
type Store interface {
	// Get returns the value for key in scope and whether it exists.
	Get(scope, key string) (string, bool, error)
	// Set writes value for key in scope. The write is durable when Set returns.
	Set(scope, key, value string) error
	// Delete removes key from scope. Deleting a missing key is not an error.
	Delete(scope, key string) error
	// Keys lists the keys present in scope in lexical order.
	Keys(scope string) ([]string, error)
	// ClearScope removes every key in scope.
	ClearScope(scope string) error
	// Scopes lists all scopes holding at least one key.
	Scopes() ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string // data source name or file path
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Open picks a backend from the DSN: empty selects the in-memory store,
// Postgres-looking DSNs select PostgresStore and anything else is an SQLite path.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == "postgres":
		st, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// InMemoryStore is a process-local Store used in tests and when no DSN is configured.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]map[string]string)}
}

func (s *InMemoryStore) Get(scope, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[scope][key]
	return v, ok, nil
}

func (s *InMemoryStore) Set(scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[scope]
	if !ok {
		m = make(map[string]string)
		s.data[scope] = m
	}
	m[key] = value
	return nil
}

func (s *InMemoryStore) Delete(scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.data[scope]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(s.data, scope)
		}
	}
	return nil
}

func (s *InMemoryStore) Keys(scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[scope]))
	for k := range s.data[scope] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemoryStore) ClearScope(scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, scope)
	return nil
}

func (s *InMemoryStore) Scopes() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]string, 0, len(s.data))
	for k := range s.data {
		scopes = append(scopes, k)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
