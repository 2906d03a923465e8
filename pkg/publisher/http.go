package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/jobctx"
)

// DefaultTimeout bounds a single publish call.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept as the error text.
const maxErrorBody = 4096

// Paths of the public highlights endpoints, per job type.
var routes = map[string]string{
	core.JobTypeUpsert: "/api/public-highlights/upsert",
	core.JobTypeDelete: "/api/public-highlights/delete",
}

// ErrUploadFailed is returned for a non-2xx response with an empty body.
var ErrUploadFailed = errors.New("public highlight upload failed")

// HTTPPublisher sends jobs to the public highlights service.
type HTTPPublisher struct {
	baseURL string
	client  *http.Client
	headers http.Header
	logger  *slog.Logger
}

// Option configures an HTTPPublisher.
type Option func(*HTTPPublisher)

// WithHTTPClient replaces the client. Its Timeout is left as is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPPublisher) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPPublisher) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHeader adds a header to every request, e.g. an API token.
func WithHeader(key, value string) Option {
	return func(p *HTTPPublisher) {
		p.headers.Add(key, value)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *HTTPPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewHTTPPublisher creates a publisher for the service at baseURL.
func NewHTTPPublisher(baseURL string, opts ...Option) *HTTPPublisher {
	p := &HTTPPublisher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Endpoint returns the URL a job type is posted to.
func (p *HTTPPublisher) Endpoint(jobType string) (string, bool) {
	path, ok := routes[jobType]
	if !ok {
		return "", false
	}
	return p.baseURL + path, true
}

// Publish posts the job payload to the endpoint for its type.
//
// Unknown job types and 4xx responses other than 408 and 429 are wrapped
// with core.NoRetry. A Retry-After header on 429 or 503 is returned as
// core.RetryAfter.
func (p *HTTPPublisher) Publish(ctx context.Context, job *core.Job) error {
	url, ok := p.Endpoint(job.JobType)
	if !ok {
		return core.NoRetry(fmt.Errorf("unknown job type %q", job.JobType))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(job.PayloadJSON))
	if err != nil {
		return core.NoRetry(fmt.Errorf("build request: %w", err))
	}
	for k, v := range p.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", job.JobType, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.logger.Debug("public highlight accepted",
			"job_id", job.ID,
			"attempt", jobctx.AttemptFromContext(ctx),
			"worker_id", jobctx.WorkerIDFromContext(ctx),
			"status", resp.StatusCode)
		return nil
	}

	var failure error = ErrUploadFailed
	if msg := strings.TrimSpace(string(body)); msg != "" {
		failure = errors.New(msg)
	}
	failure = &StatusError{Code: resp.StatusCode, Err: failure}

	if d, ok := retryAfter(resp); ok {
		return core.RetryAfter(d, failure)
	}
	if permanent(resp.StatusCode) {
		return core.NoRetry(failure)
	}
	return failure
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func permanent(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}
	return 0, false
}
