// Package upload sends transcript exports to the research data-collection endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Defaults for the DataPipe endpoint.
const (
	DefaultEndpoint     = "https://pipe.jspsych.org/api/data/"
	DefaultExperimentID = "NW4iChQvrgRa"
	DefaultRetryMax     = 2
	DefaultTimeout      = 15 * time.Second
)

// Uploader stores one CSV export under a filename.
type Uploader interface {
	Upload(ctx context.Context, filename, data string) error
}

// Payload is the JSON body accepted by the data-collection endpoint.
type Payload struct {
	ExperimentID string `json:"experimentID"`
	Filename     string `json:"filename"`
	Data         string `json:"data"`
}

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload rejected: %s: %s", e.Status, e.Body)
}

// Opts holds DataPipe configuration.
type Opts struct {
	Endpoint     string
	ExperimentID string
	RetryMax     int
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Option configures a DataPipe uploader.
type Option func(*Opts)

// WithEndpoint overrides the upload URL.
func WithEndpoint(url string) Option {
	return func(o *Opts) { o.Endpoint = url }
}

// WithExperimentID sets the experiment the exports belong to.
func WithExperimentID(id string) Option {
	return func(o *Opts) { o.ExperimentID = id }
}

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(n int) Option {
	return func(o *Opts) { o.RetryMax = n }
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient sets the underlying HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// DataPipe posts exports to a DataPipe-compatible endpoint.
type DataPipe struct {
	endpoint     string
	experimentID string
	client       *retryablehttp.Client
}

// NewDataPipe creates a DataPipe uploader.
func NewDataPipe(opts ...Option) *DataPipe {
	cfg := Opts{
		Endpoint:     DefaultEndpoint,
		ExperimentID: DefaultExperimentID,
		RetryMax:     DefaultRetryMax,
		Timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default()
	// Return the last response instead of an opaque error once retries run out.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.HTTPClient.Timeout = cfg.Timeout

	slog.Debug("NewDataPipe: configured uploader", "endpoint", cfg.Endpoint, "retry_max", cfg.RetryMax)
	return &DataPipe{endpoint: cfg.Endpoint, experimentID: cfg.ExperimentID, client: rc}
}

// Upload posts one export. Any non-2xx response is returned as *StatusError.
func (d *DataPipe) Upload(ctx context.Context, filename, data string) error {
	body, err := json.Marshal(Payload{ExperimentID: d.experimentID, Filename: filename, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode upload payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Error("DataPipe.Upload: request failed", "filename", filename, "error", err)
		return fmt.Errorf("upload of %s failed: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("DataPipe.Upload: endpoint rejected upload", "filename", filename, "status", resp.Status)
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bytes.TrimSpace(msg))}
	}
	slog.Info("DataPipe.Upload: transcript uploaded", "filename", filename, "bytes", len(data))
	return nil
}

// Filename builds an export filename: prefix, the optional parts, and the
// ISO-8601 time with ':', '.' and '-' replaced by '_'.
func Filename(prefix string, now time.Time, parts ...string) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "_", ".", "_", "-", "_").Replace(ts)
	name := prefix
	for _, p := range parts {
		if p != "" {
			name += "_" + p
		}
	}
	return name + "_" + ts + ".csv"
}
