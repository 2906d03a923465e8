// Package api serves the retry queue operations as a JSON HTTP API built on chi.
//
// Request and response fields use the storage column names (job_type,
// payload_json, next_retry_at, ...). Validation failures map to 400, missing
// jobs to 404, a closed database to 503 and other storage failures to 500,
// always with an {"error": "..."} body.
package api
