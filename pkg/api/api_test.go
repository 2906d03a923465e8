package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/stats"
	"github.com/jdziat/durable-retry-queue/pkg/storage"
)

type fixture struct {
	repo *storage.GormStorage
	srv  *httptest.Server
	now  atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h, err := storage.Open(storage.OpenConfig{
		DSN:  ":memory:",
		Pool: []storage.PoolOption{storage.SingleConnection()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	f := &fixture{}
	f.now.Store(1000)
	clock := func() time.Time { return time.UnixMilli(f.now.Load()) }
	f.repo = storage.NewGormStorage(h, storage.WithClock(clock))
	require.NoError(t, f.repo.Migrate(context.Background()))

	f.srv = httptest.NewServer(New(f.repo, WithClock(clock)).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (f *fixture) enqueue(t *testing.T, jobType string) int64 {
	t.Helper()
	resp, out := f.do(t, http.MethodPost, "/jobs", map[string]any{"job_type": jobType, "payload_json": `{"quote":"q"}`})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return int64(out["id"].(float64))
}

func jobIDs(t *testing.T, out map[string]any) []int64 {
	t.Helper()
	raw, ok := out["jobs"].([]any)
	require.True(t, ok, "jobs array missing: %v", out)
	ids := make([]int64, 0, len(raw))
	for _, j := range raw {
		ids = append(ids, int64(j.(map[string]any)["id"].(float64)))
	}
	return ids
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp, out := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestEnqueueAndFetch(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, core.JobTypeUpsert)

	resp, out := f.do(t, http.MethodPost, "/jobs/fetch", map[string]any{"limit": 10, "now": 1000, "cutoff": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{id}, jobIDs(t, out))

	job := out["jobs"].([]any)[0].(map[string]any)
	assert.Equal(t, "upsert", job["job_type"])
	assert.Equal(t, `{"quote":"q"}`, job["payload_json"])
	assert.EqualValues(t, 0, job["attempts"])
	assert.EqualValues(t, 1000, job["created_at"])
	assert.EqualValues(t, 1000, job["next_retry_at"])
}

func TestFetch_EmptyIsArray(t *testing.T) {
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/jobs/fetch", map[string]any{"limit": 10, "now": 1000, "cutoff": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, out["jobs"])
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/jobs", map[string]any{"job_type": "", "payload_json": "{}"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "job_type")

	resp, _ = f.do(t, http.MethodPost, "/jobs", map[string]any{"job_type": "upsert", "payload_json": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = f.do(t, http.MethodPost, "/jobs", `{"job_type":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "invalid request body")

	resp, _ = f.do(t, http.MethodPost, "/jobs", map[string]any{"jobType": "upsert"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")
}

func TestFetch_InvalidLimit(t *testing.T) {
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/jobs/fetch", map[string]any{"limit": 0, "now": 1000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])
}

func TestReportFailureThenSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, core.JobTypeDelete)

	resp, _ := f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/failure", id),
		map[string]any{"attempts": 1, "next_retry_at": 5000, "last_error": "timeout"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out := f.do(t, http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["attempts"])
	assert.EqualValues(t, 5000, out["next_retry_at"])
	assert.Equal(t, "timeout", out["last_error"])

	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/success", id), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Reports on missing jobs are no-ops.
	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/success", id), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/failure", id),
		map[string]any{"attempts": 2, "next_retry_at": 6000})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestReportFailure_NegativeAttempts(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, core.JobTypeUpsert)

	resp, _ := f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/failure", id),
		map[string]any{"attempts": -1, "next_retry_at": 5000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidPathID(t *testing.T) {
	f := newFixture(t)

	resp, out := f.do(t, http.MethodPost, "/jobs/abc/success", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid job id", out["error"])
}

func TestRetryNow(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, core.JobTypeUpsert)
	require.NoError(t, f.repo.MarkFailure(context.Background(), id, 4, 90_000, nil))

	f.now.Store(3000)
	resp, out := f.do(t, http.MethodPost, fmt.Sprintf("/jobs/%d/retry", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3000, out["next_retry_at"])
	assert.EqualValues(t, 4, out["attempts"])

	resp, _ = f.do(t, http.MethodPost, "/jobs/999999/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchAndStats(t *testing.T) {
	f := newFixture(t)
	a := f.enqueue(t, core.JobTypeUpsert)
	f.now.Store(2000)
	b := f.enqueue(t, core.JobTypeDelete)
	require.NoError(t, f.repo.MarkFailure(context.Background(), a, 1, 9000, nil))

	resp, out := f.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{b, a}, jobIDs(t, out))
	assert.EqualValues(t, 2, out["total"])

	_, out = f.do(t, http.MethodGet, "/jobs?failed=true", nil)
	assert.Equal(t, []int64{a}, jobIDs(t, out))

	_, out = f.do(t, http.MethodGet, "/jobs?job_type=delete&limit=5", nil)
	assert.Equal(t, []int64{b}, jobIDs(t, out))

	resp, _ = f.do(t, http.MethodGet, "/jobs?limit=-4", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2000, out["now"])
	types := out["job_types"].([]any)
	require.Len(t, types, 2)
	del := types[0].(map[string]any)
	assert.Equal(t, "delete", del["job_type"])
	assert.EqualValues(t, 1, del["ready"])
	up := types[1].(map[string]any)
	assert.EqualValues(t, 0, up["ready"])
	assert.EqualValues(t, 1, up["retrying"])
	assert.NotContains(t, out, "scheduler")
}

func TestStats_IncludesCollector(t *testing.T) {
	f := newFixture(t)
	c := stats.NewCollector()
	c.Handle(&core.JobSucceeded{Job: &core.Job{ID: 1, JobType: core.JobTypeUpsert}})
	c.Handle(&core.JobsFetched{Count: 1})

	srv := httptest.NewServer(New(f.repo, WithCollector(c)).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		JobTypes  []any           `json:"job_types"`
		Scheduler *stats.Snapshot `json:"scheduler"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out.JobTypes)
	require.NotNil(t, out.Scheduler)
	assert.Equal(t, int64(1), out.Scheduler.Polls)
	require.Len(t, out.Scheduler.JobTypes, 1)
	assert.Equal(t, int64(1), out.Scheduler.JobTypes[0].Succeeded)
}

func TestStorageErrorsMapTo500(t *testing.T) {
	f := newFixture(t)

	srv := httptest.NewServer(New(brokenStore{f.repo}).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/jobs", "application/json",
		strings.NewReader(`{"job_type":"upsert","payload_json":"{}"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "retryqueue: failed to enqueue")
}

func TestClosedHandleMapsTo503(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Handle().Close())

	resp, _ := f.do(t, http.MethodPost, "/jobs", map[string]any{"job_type": "upsert", "payload_json": "{}"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type brokenStore struct {
	*storage.GormStorage
}

func (brokenStore) Enqueue(context.Context, string, string) (int64, error) {
	return 0, core.Storage("enqueue public highlight job", errors.New("disk full"))
}
