// Package core provides the fundamental types and interfaces for the retry queue.
//
// This package contains:
//   - The Job data model with GORM annotations
//   - Repository and Leaser interfaces defining the persistence contract
//   - Publisher, the collaborator that performs the actual publish call
//   - Event types for scheduler monitoring
//   - Error types for validation, storage and publish failures
//
// Most users should import the root package github.com/jdziat/durable-retry-queue
// instead of this package directly.
package core
