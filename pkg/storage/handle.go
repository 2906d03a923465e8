package storage

import (
	"sync"

	"gorm.io/gorm"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// Handle owns the shared connection pool.
//
// A Handle may be created empty and filled in later with Set, which lets the
// repository be constructed before the database is opened. Calls made while
// the handle is empty or closed fail with ErrNotInitialized or ErrClosed.
type Handle struct {
	mu     sync.RWMutex
	db     *gorm.DB
	closed bool
}

// NewHandle wraps db. A nil db yields an uninitialized handle.
func NewHandle(db *gorm.DB) *Handle {
	return &Handle{db: db}
}

// Set installs db, reopening a closed handle.
func (h *Handle) Set(db *gorm.DB) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db = db
	h.closed = false
}

// DB returns the pool, or an error if none is usable.
func (h *Handle) DB() (*gorm.DB, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, core.ErrClosed
	}
	if h.db == nil {
		return nil, core.ErrNotInitialized
	}
	return h.db, nil
}

// Ready reports whether DB would succeed.
func (h *Handle) Ready() bool {
	_, err := h.DB()
	return err == nil
}

// Close closes the underlying *sql.DB. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.db == nil {
		h.closed = true
		return nil
	}
	h.closed = true
	sqlDB, err := h.db.DB()
	if err != nil {
		return core.Storage("close database", err)
	}
	return core.Storage("close database", sqlDB.Close())
}
