package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// PoolConfig sizes the database/sql pool behind a Handle.
//
// A scheduler holds at most one connection per in-flight report plus one for
// the fetch transaction, so MaxOpenConns only needs to exceed Concurrency by
// a small margin when several schedulers do not share the process.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// Pool preset names accepted by PoolPreset.
const (
	PresetDefault             = "default"
	PresetHighConcurrency     = "high_concurrency"
	PresetLowLatency          = "low_latency"
	PresetResourceConstrained = "resource_constrained"
	PresetSingleConnection    = "single_connection"
)

var poolPresets = map[string]func() PoolConfig{
	PresetDefault:             DefaultPoolConfig,
	PresetHighConcurrency:     HighConcurrencyPoolConfig,
	PresetLowLatency:          LowLatencyPoolConfig,
	PresetResourceConstrained: ResourceConstrainedPoolConfig,
	PresetSingleConnection:    SingleConnectionPoolConfig,
}

// PoolPreset returns the named pool settings.
func PoolPreset(name string) (PoolConfig, error) {
	preset, ok := poolPresets[name]
	if !ok {
		return PoolConfig{}, fmt.Errorf("unknown pool preset %q (want one of %v)", name, PoolPresetNames())
	}
	return preset(), nil
}

// PoolPresetNames lists the accepted preset names, sorted.
func PoolPresetNames() []string {
	names := make([]string, 0, len(poolPresets))
	for name := range poolPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultPoolConfig is used by Open when no pool option is given: 25 open,
// 10 idle, connections recycled after 5 minutes or 1 minute idle.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// HighConcurrencyPoolConfig suits a PostgreSQL database shared by many
// schedulers or a scheduler with high Concurrency.
func HighConcurrencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    100,
		MaxIdleConns:    25,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// LowLatencyPoolConfig keeps most connections warm for short poll intervals.
func LowLatencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    40,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ResourceConstrainedPoolConfig caps the pool for small database servers.
func ResourceConstrainedPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}
}

// SingleConnectionPoolConfig holds exactly one connection that never expires.
func SingleConnectionPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

// PoolOption adjusts a PoolConfig. Options apply in order on top of
// DefaultPoolConfig.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns caps open connections. Zero means unlimited.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxOpenConns = n })
}

// MaxIdleConns caps idle connections.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxIdleConns = n })
}

// ConnMaxLifetime recycles connections older than d. Zero keeps them forever.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxLifetime = d })
}

// ConnMaxIdleTime closes connections idle longer than d. Zero disables it.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxIdleTime = d })
}

// WithPoolConfig replaces every pool setting with cfg.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { *c = cfg })
}

// SingleConnection pins the pool to one connection. SQLite ":memory:"
// databases need it since each new connection opens an empty database.
func SingleConnection() PoolOption {
	return WithPoolConfig(SingleConnectionPoolConfig())
}

// ConfigurePool applies opts on top of DefaultPoolConfig to db's pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("retryqueue: get *sql.DB: %w", err)
	}
	cfg.apply(sqlDB)
	return nil
}
