// Package storage persists public highlight retry jobs with GORM.
//
// GormStorage implements core.Repository and core.Leaser over SQLite or
// PostgreSQL. The pool it uses lives in a Handle, which reports
// core.ErrNotInitialized before a database is set and core.ErrClosed after
// Close.
//
// Most callers use Open to build a Handle from a driver name and DSN:
//
//	h, err := storage.Open(storage.OpenConfig{Driver: "sqlite", DSN: "retry_queue.db"})
//	repo := storage.NewGormStorage(h)
//	err = repo.Migrate(ctx)
package storage
