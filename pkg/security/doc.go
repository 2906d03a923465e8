// Package security provides validation, sanitization, and limits for the retry queue.
//
// This package includes:
//   - Input validation for job types, payloads and fetch limits
//   - Error message sanitization before last_error is stored
//   - Clamping functions to enforce safe limits on batch size and concurrency
//
// Most users should import the root package github.com/jdziat/durable-retry-queue
// which re-exports the limits.
package security
