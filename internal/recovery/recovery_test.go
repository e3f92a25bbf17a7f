package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockRecoverable struct {
	err    error
	called bool
}

func (m *mockRecoverable) RecoverState(ctx context.Context) error {
	m.called = true
	return m.err
}

func TestRecoverAllSuccess(t *testing.T) {
	m := NewManager()
	a, b := &mockRecoverable{}, &mockRecoverable{}
	m.Register("a", a)
	m.Register("b", b)

	if m.Len() != 2 {
		t.Fatalf("expected 2 components, got %d", m.Len())
	}
	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if !a.called || !b.called {
		t.Error("every component should be recovered")
	}
}

func TestRecoverAllContinuesAfterFailure(t *testing.T) {
	m := NewManager()
	failing := &mockRecoverable{err: errors.New("boom")}
	after := &mockRecoverable{}
	m.Register("failing", failing)
	m.Register("after", after)

	err := m.RecoverAll(context.Background())
	if err == nil {
		t.Fatal("expected an error when a component fails")
	}
	if !strings.Contains(err.Error(), "1 errors out of 2") {
		t.Errorf("unexpected error: %v", err)
	}
	if !after.called {
		t.Error("components after a failure should still be recovered")
	}
}

func TestRecoverAllCancelled(t *testing.T) {
	m := NewManager()
	r := &mockRecoverable{}
	m.Register("r", r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if r.called {
		t.Error("no component should run after cancellation")
	}
}

func TestRecoverFunc(t *testing.T) {
	m := NewManager()
	ran := false
	m.Register("func", RecoverFunc(func(ctx context.Context) error {
		ran = true
		return nil
	}))
	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if !ran {
		t.Error("RecoverFunc was not called")
	}
}

func TestRecoverAllEmpty(t *testing.T) {
	if err := NewManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("empty manager should succeed, got %v", err)
	}
}
