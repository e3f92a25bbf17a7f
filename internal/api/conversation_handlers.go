package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/transcript"
	"github.com/BTreeMap/AvatarStudy/internal/upload"
)

// ChatRequest carries one participant utterance for the built-in chat backend.
type ChatRequest struct {
	Text string `json:"text"`
}

// ChatResponse is the character's reply and the stored transcript after it.
type ChatResponse struct {
	Reply      string            `json:"reply"`
	Transcript models.Transcript `json:"transcript"`
}

// SDKResponse tells the browser what was recorded and which SDK fields to clear.
type SDKResponse struct {
	Recorded int                 `json:"recorded"`
	Client   transcript.Snapshot `json:"client"`
}

// TranscriptResponse is the stored transcript of the active character.
type TranscriptResponse struct {
	Character  models.Character  `json:"character"`
	Transcript models.Transcript `json:"transcript"`
}

// sdkHandler applies the recording rules to an SDK snapshot reported by the browser.
func (s *Server) sdkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "sdkHandler") {
		return
	}
	key := r.PathValue("key")
	var snap transcript.Snapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&snap); err != nil {
		slog.Warn("Server.sdkHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	client := transcript.NewSnapshotClient(snap)
	n, char, err := s.machine.Observe(r.Context(), key, snap.CharacterID, client)
	if errors.Is(err, models.ErrInactiveCharacter) {
		// A late event from the previous character after a transition.
		slog.Warn("Server.sdkHandler: snapshot for inactive character ignored", "session", key, "snapshot", snap.CharacterID, "active", char.ID)
		writeJSONResponse(w, http.StatusConflict, models.Error(fmt.Sprintf("character %s is not active", snap.CharacterID)))
		return
	}
	if err != nil {
		writeErrorResponse(w, "sdkHandler", err)
		return
	}
	if n > 0 {
		slog.Debug("Server.sdkHandler: turns recorded", "session", key, "character", char.ID, "recorded", n)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SDKResponse{Recorded: n, Client: client.State()}))
}

// chatHandler runs one exchange with the built-in conversation backend. The
// participant turn is recorded before generation so a failed or slow reply
// leaves the timeout error turn in the transcript.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "chatHandler") {
		return
	}
	if s.conversations == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Chat backend not configured"))
		return
	}
	key := r.PathValue("key")
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeErrorResponse(w, "chatHandler", models.ErrEmptyUserText)
		return
	}
	char, _, err := s.machine.Transcript(r.Context(), key)
	if err != nil {
		writeErrorResponse(w, "chatHandler", err)
		return
	}

	conv := s.conversations.Get(key, char)
	conv.Ask(text)
	if _, _, err := s.machine.Observe(r.Context(), key, char.ID, conv); err != nil {
		writeErrorResponse(w, "chatHandler", err)
		return
	}
	reply, err := conv.Respond(r.Context())
	if err != nil {
		slog.Error("Server.chatHandler: reply generation failed", "session", key, "character", char.ID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to generate reply"))
		return
	}
	// The session may have moved on while the reply was generated; the reply
	// is then refused rather than recorded against the next character.
	var tr models.Transcript
	_, err = s.machine.WithRecorder(r.Context(), key, char.ID, func(rec *transcript.Recorder) error {
		if _, err := rec.Observe(conv); err != nil {
			return err
		}
		tr = rec.Transcript()
		return nil
	})
	if err != nil {
		writeErrorResponse(w, "chatHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ChatResponse{Reply: reply, Transcript: tr}))
}

func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "transcriptHandler") {
		return
	}
	char, tr, err := s.machine.Transcript(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErrorResponse(w, "transcriptHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(TranscriptResponse{Character: char, Transcript: tr}))
}

// transcriptCSVHandler exports the active transcript in the upload CSV format.
func (s *Server) transcriptCSVHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "transcriptCSVHandler") {
		return
	}
	key := r.PathValue("key")
	state, err := s.machine.State(r.Context(), key)
	if err != nil {
		writeErrorResponse(w, "transcriptCSVHandler", err)
		return
	}
	char, tr, err := s.machine.Transcript(r.Context(), key)
	if err != nil {
		writeErrorResponse(w, "transcriptCSVHandler", err)
		return
	}
	filename := upload.Filename("chatHistory", timeNow(), state.State.UserID, char.ID)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(transcript.ToCSV(tr.Message))); err != nil {
		slog.Error("Server.transcriptCSVHandler: failed to write CSV", "error", err)
	}
}
