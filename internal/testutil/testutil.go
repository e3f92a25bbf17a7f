// Package testutil provides common test utilities and helpers for AvatarStudy tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/api"
	"github.com/BTreeMap/AvatarStudy/internal/models"
	"github.com/BTreeMap/AvatarStudy/internal/roster"
	"github.com/BTreeMap/AvatarStudy/internal/store"
	"github.com/BTreeMap/AvatarStudy/internal/study"
	"github.com/BTreeMap/AvatarStudy/internal/transcript"
)

// FakeUploader records uploads instead of sending them.
type FakeUploader struct {
	mu    sync.Mutex
	Files []string
	Data  []string
	Err   error
}

// Upload records the export and returns Err.
func (u *FakeUploader) Upload(ctx context.Context, filename, data string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Files = append(u.Files, filename)
	u.Data = append(u.Data, data)
	return u.Err
}

// Count returns the number of uploads attempted.
func (u *FakeUploader) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.Files)
}

// TestEnv bundles a test API server with its in-memory dependencies.
type TestEnv struct {
	Server   *api.Server
	Handler  http.Handler
	Machine  *study.Machine
	Store    store.Store
	Uploader *FakeUploader
}

// NewTestServer creates a test API server with in-memory dependencies and a
// deterministic character order. Reply timeouts are long enough never to fire
// during a test.
func NewTestServer(tb testing.TB, opts ...api.Option) *TestEnv {
	tb.Helper()
	st := store.NewInMemoryStore()
	tb.Cleanup(func() { st.Close() })

	tm := transcript.NewManager(st, transcript.WithReplyTimeout(time.Hour))
	up := &FakeUploader{}
	m := study.NewMachine(st, roster.Default(), up, tm, study.WithRand(rand.New(rand.NewPCG(7, 11))))
	srv := api.NewServer(m, opts...)
	return &TestEnv{Server: srv, Handler: srv.Handler(), Machine: m, Store: st, Uploader: up}
}

// Do sends a request with an optional JSON body to the env's handler.
func (e *TestEnv) Do(tb testing.TB, method, url string, body interface{}) *httptest.ResponseRecorder {
	tb.Helper()
	rr := httptest.NewRecorder()
	e.Handler.ServeHTTP(rr, CreateHTTPRequest(tb, method, url, body))
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(tb testing.TB, expected, actual int, context string) {
	tb.Helper()
	if actual != expected {
		tb.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the JSON envelope, validates its status field and
// decodes the result into target when target is non-nil.
func AssertJSONResponse(tb testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus, target interface{}) models.APIResponse {
	tb.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		tb.Fatalf("failed to decode JSON response: %v", err)
	}
	if envelope.Status != string(expectedStatus) {
		tb.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, envelope.Status, envelope.Message)
	}
	if target != nil && len(envelope.Result) > 0 {
		MustUnmarshalJSON(tb, envelope.Result, target)
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(tb testing.TB, method, url string, body interface{}) *http.Request {
	tb.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(tb, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		tb.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(tb testing.TB, v interface{}) []byte {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(tb testing.TB, data []byte, target interface{}) {
	tb.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		tb.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
