// Package api provides HTTP handlers for AvatarStudy endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/study"
)

// SessionCreated is returned when a new participant session starts.
type SessionCreated struct {
	Key     string        `json:"key"`
	Outcome study.Outcome `json:"outcome"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "healthHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"recorders": s.machine.Transcripts().Active(),
		"chat":      s.conversations != nil,
	}))
}

func (s *Server) rosterHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "rosterHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.machine.Roster().Characters()))
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "createSessionHandler") {
		return
	}
	key, out, err := s.machine.NewSession(r.Context())
	if err != nil {
		writeErrorResponse(w, "createSessionHandler", err)
		return
	}
	slog.Info("Server.createSessionHandler: session created", "session", key)
	writeJSONResponse(w, http.StatusCreated, models.Success(SessionCreated{Key: key, Outcome: out}))
}

func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "sessionStateHandler") {
		return
	}
	out, err := s.machine.State(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErrorResponse(w, "sessionStateHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// eventHandler adapts a state machine event to an HTTP handler. Blocked
// transitions answer 200 with status "blocked" so the front-end shows the warning.
func (s *Server) eventHandler(name string, event func(context.Context, string) (study.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			defer r.Body.Close()
		}
		if !allowMethod(w, r, http.MethodPost, name) {
			return
		}
		key := r.PathValue("key")
		slog.Debug("Server."+name+": processing event", "session", key)
		out, err := event(r.Context(), key)
		if err != nil {
			writeErrorResponse(w, name, err)
			return
		}
		if out.Blocked() {
			writeJSONResponse(w, http.StatusOK, models.Blocked(out.Warning, out))
			return
		}
		if out.ResetConversation && s.conversations != nil {
			s.conversations.Drop(key)
		}
		writeJSONResponse(w, http.StatusOK, models.Success(out))
	}
}

func (s *Server) failedUploadsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "failedUploadsHandler") {
		return
	}
	if s.archive == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Upload archive not configured"))
		return
	}
	names, err := s.archive.Failed()
	if err != nil {
		writeErrorResponse(w, "failedUploadsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(names))
}

func (s *Server) retryUploadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "retryUploadsHandler") {
		return
	}
	if s.archive == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Upload archive not configured"))
		return
	}
	delivered, err := s.archive.RetryFailed(r.Context())
	if err != nil {
		writeErrorResponse(w, "retryUploadsHandler", err)
		return
	}
	slog.Info("Server.retryUploadsHandler: archived uploads retried", "delivered", delivered)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"delivered": delivered}))
}
