// Package recovery runs the startup recovery steps of AvatarStudy after a
// restart. Components register themselves and are recovered in order; a
// failing component is logged and does not stop the others.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context) error
}

// RecoverFunc adapts a function to Recoverable.
type RecoverFunc func(ctx context.Context) error

// RecoverState calls f(ctx).
func (f RecoverFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	r    Recoverable
}

// Manager orchestrates recovery of all registered components
type Manager struct {
	components []component
}

// NewManager creates an empty recovery manager
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a named component. Components recover in registration order.
func (m *Manager) Register(name string, r Recoverable) {
	m.components = append(m.components, component{name: name, r: r})
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	return len(m.components)
}

// RecoverAll performs recovery of all registered components. It stops early
// only when ctx is cancelled.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.components))

	recovered, failed := 0, 0
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recovery interrupted before %s: %w", c.name, err)
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("Manager.RecoverAll: component recovery failed", "component", c.name, "error", err)
			failed++
			continue
		}
		slog.Debug("Manager.RecoverAll: component recovered", "component", c.name)
		recovered++
	}

	slog.Info("Manager.RecoverAll: recovery completed", "recovered", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.components))
	}
	return nil
}
