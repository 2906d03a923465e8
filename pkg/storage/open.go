package storage

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenConfig describes how to reach the storage engine.
type OpenConfig struct {
	// Driver is DriverSQLite or DriverPostgres. Empty means SQLite.
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// Debug enables GORM's SQL logging.
	Debug bool

	// Pool options applied after the connection is opened.
	Pool []PoolOption
}

// Dialector returns the GORM dialector for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return sqlite.Open(dsn), nil
	case DriverPostgres, "postgresql", "pgx":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the configured engine and returns a ready Handle.
func Open(cfg OpenConfig) (*Handle, error) {
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, core.Storage("open database", err)
	}

	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, core.Storage("open database", err)
	}

	if err := ConfigurePool(db, cfg.Pool...); err != nil {
		return nil, core.Storage("configure pool", err)
	}
	return NewHandle(db), nil
}
