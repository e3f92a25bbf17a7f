package upload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AvatarStudy/internal/store"
)

// FailedScope is the store scope holding exports whose upload failed.
const FailedScope = "_failed_uploads"

// Archive wraps an Uploader and keeps a copy of every export that could not be
// delivered, so a lost upload can be retried later instead of being dropped.
type Archive struct {
	next Uploader
	st   store.Store
}

// NewArchive decorates next with failure archiving into st.
func NewArchive(next Uploader, st store.Store) *Archive {
	return &Archive{next: next, st: st}
}

// Upload forwards to the wrapped uploader and archives the export on failure.
// The original error is always returned.
func (a *Archive) Upload(ctx context.Context, filename, data string) error {
	err := a.next.Upload(ctx, filename, data)
	if err == nil {
		return nil
	}
	if serr := a.st.Set(FailedScope, filename, data); serr != nil {
		slog.Error("Archive.Upload: failed to archive export", "filename", filename, "error", serr)
	} else {
		slog.Warn("Archive.Upload: export archived for retry", "filename", filename)
	}
	return err
}

// Failed lists archived export filenames.
func (a *Archive) Failed() ([]string, error) {
	return a.st.Keys(FailedScope)
}

// RetryFailed re-uploads archived exports and removes the ones that succeed.
// It returns the number delivered.
func (a *Archive) RetryFailed(ctx context.Context) (int, error) {
	names, err := a.st.Keys(FailedScope)
	if err != nil {
		return 0, fmt.Errorf("failed to list archived exports: %w", err)
	}
	delivered := 0
	for _, name := range names {
		data, ok, err := a.st.Get(FailedScope, name)
		if err != nil || !ok {
			continue
		}
		if err := a.next.Upload(ctx, name, data); err != nil {
			slog.Warn("Archive.RetryFailed: upload still failing", "filename", name, "error", err)
			continue
		}
		if err := a.st.Delete(FailedScope, name); err != nil {
			slog.Error("Archive.RetryFailed: failed to remove delivered export", "filename", name, "error", err)
		}
		delivered++
	}
	return delivered, nil
}

// RecoverState retries archived exports left over from a previous run.
func (a *Archive) RecoverState(ctx context.Context) error {
	names, err := a.Failed()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	delivered, err := a.RetryFailed(ctx)
	if err != nil {
		return err
	}
	slog.Info("Archive.RecoverState: archived exports retried", "pending", len(names), "delivered", delivered)
	return nil
}
