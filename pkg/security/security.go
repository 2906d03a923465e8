// Package security provides validation, sanitization, and limits for the retry queue.
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeLength is the maximum length for job types
	MaxJobTypeLength = 255

	// MaxPayloadSize is the maximum size in bytes for a payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxBatchSize is the hard limit for rows returned by one fetch
	MaxBatchSize = 1000

	// MaxConcurrency is the hard limit for scheduler dispatch concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxWorkerIDLength is the maximum length for lease owner ids
	MaxWorkerIDLength = 255
)

// ValidateJobType checks that a job type is present and fits the column.
// The content itself is opaque to the queue.
func ValidateJobType(jobType string) error {
	if strings.TrimSpace(jobType) == "" {
		return core.Invalid("job_type", core.ErrInvalidJobType)
	}
	if len(jobType) > MaxJobTypeLength {
		return core.Invalid("job_type", core.ErrJobTypeTooLong)
	}
	return nil
}

// ValidatePayload checks that a payload is present and within MaxPayloadSize.
// The payload is never parsed.
func ValidatePayload(payload string) error {
	if payload == "" {
		return core.Invalid("payload_json", core.ErrEmptyPayload)
	}
	if len(payload) > MaxPayloadSize {
		return core.Invalid("payload_json", core.ErrPayloadTooLarge)
	}
	return nil
}

// ValidateLimit checks a fetch limit.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return core.Invalid("limit", core.ErrInvalidLimit)
	}
	return nil
}

// ValidateAttempts checks a caller-supplied attempt count.
func ValidateAttempts(attempts int64) error {
	if attempts < 0 {
		return core.Invalid("attempts", core.ErrInvalidAttempts)
	}
	return nil
}

// ValidateClaim checks a lease request.
func ValidateClaim(req core.ClaimRequest) error {
	if err := ValidateLimit(req.Limit); err != nil {
		return err
	}
	if req.WorkerID == "" || len(req.WorkerID) > MaxWorkerIDLength || req.LeaseUntil <= req.Now {
		return core.Invalid("claim", core.ErrInvalidClaim)
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// SanitizeLastError applies SanitizeErrorMessage to an optional message.
func SanitizeLastError(msg *string) *string {
	if msg == nil {
		return nil
	}
	s := SanitizeErrorMessage(*msg)
	return &s
}

// ClampBatchSize ensures a fetch limit is within [1, MaxBatchSize]
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
