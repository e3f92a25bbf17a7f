package study

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/store"
)

// RecoverState audits persisted sessions after a restart. Main-study sessions
// whose stored order no longer matches the roster get a fresh order starting
// at position 0, and an out-of-range position is moved back inside the
// order, so their next request lands on a valid character. Scopes
// starting with "_" belong to infrastructure and are skipped.
func (m *Machine) RecoverState(ctx context.Context) error {
	scopes, err := m.st.Scopes()
	if err != nil {
		return err
	}
	counts := make(map[models.Stage]int)
	repaired := 0
	for _, key := range scopes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(key, "_") {
			continue
		}
		ok, err := m.recoverSession(key)
		if err != nil {
			slog.Error("Machine.RecoverState: failed to repair session", "session", key, "error", err)
			continue
		}
		if ok {
			repaired++
		}
		counts[store.NewScoped(m.st, key).CurrentStage()]++
	}
	slog.Info("Machine.RecoverState: sessions audited", "sessions", len(scopes), "repaired", repaired, "byStage", counts)
	return nil
}

func (m *Machine) recoverSession(key string) (bool, error) {
	defer m.lock(key)()
	sc := store.NewScoped(m.st, key)
	if sc.CurrentStage() != models.StageMainStudy {
		return false, nil
	}
	order := sc.RandomOrder()
	if m.roster.IsPermutationOfMain(order) {
		pos := sc.OrderPosition()
		if pos >= 0 && pos < len(order) {
			return false, nil
		}
		pos = orderPosition(sc, order, sc.CurrentIndex())
		if err := sc.SetOrderPosition(pos); err != nil {
			return false, err
		}
		if err := sc.SetCurrentIndex(order[pos]); err != nil {
			return false, err
		}
		slog.Warn("Machine.RecoverState: order position repaired", "session", key, "position", pos)
		return true, nil
	}
	order = m.randomOrder()
	if err := sc.SetRandomOrder(order); err != nil {
		return false, err
	}
	if err := sc.SetOrderPosition(0); err != nil {
		return false, err
	}
	if err := sc.SetCurrentIndex(order[0]); err != nil {
		return false, err
	}
	slog.Warn("Machine.RecoverState: corrupt random order replaced", "session", key, "order", order)
	return true, nil
}
