package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jdziat/durable-retry-queue/pkg/backoff"
	"github.com/jdziat/durable-retry-queue/pkg/schedule"
	"github.com/jdziat/durable-retry-queue/pkg/storage"
)

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into Config
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrInvalidConfig is returned when parsed values are out of range
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the process configuration, read from the environment.
type Config struct {
	DBDriver          string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN             string        `env:"DB_DSN" envDefault:"retry_queue.db"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	DBDebug           bool          `env:"DB_DEBUG" envDefault:"false"`
	// DBPoolPreset replaces the DB_MAX_* and DB_CONN_* values when set.
	DBPoolPreset string `env:"DB_POOL_PRESET"`

	PublishBaseURL string        `env:"PUBLISH_BASE_URL" envDefault:"http://localhost:8080"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`
	PublishToken   string        `env:"PUBLISH_TOKEN"`

	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PollCron      string        `env:"POLL_CRON"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"20"`
	MaxAge        time.Duration `env:"MAX_AGE" envDefault:"168h"`
	Concurrency   int           `env:"CONCURRENCY" envDefault:"4"`
	MaxAttempts   int64         `env:"MAX_ATTEMPTS" envDefault:"0"`
	DropOnNoRetry bool          `env:"DROP_ON_NO_RETRY" envDefault:"false"`
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"0s"`
	WorkerID      string        `env:"WORKER_ID"`

	BackoffInitial    time.Duration `env:"BACKOFF_INITIAL" envDefault:"2s"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX" envDefault:"10m"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	BackoffJitter     float64       `env:"BACKOFF_JITTER" envDefault:"0.1"`

	// APIAddr enables the HTTP API when set, e.g. ":8090".
	APIAddr string `env:"API_ADDR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file from the working directory, then parses
// the process environment. Variables already set win over the file.
func Load() (Config, error) {
	// Ignore errors - the .env file might not exist and that's ok
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := storage.Dialector(c.DBDriver, c.DBDSN); err != nil {
		errs = append(errs, err)
	}
	if c.DBPoolPreset != "" {
		if _, err := storage.PoolPreset(c.DBPoolPreset); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN must not be empty"))
	}
	if c.PublishBaseURL == "" {
		errs = append(errs, errors.New("PUBLISH_BASE_URL must not be empty"))
	}
	if c.PollCron == "" && c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.PollCron != "" {
		if _, err := schedule.ParseCron(c.PollCron); err != nil {
			errs = append(errs, err)
		}
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("BATCH_SIZE must be at least 1"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("CONCURRENCY must be at least 1"))
	}
	if c.MaxAge < 0 || c.MaxAttempts < 0 || c.LeaseDuration < 0 {
		errs = append(errs, errors.New("MAX_AGE, MAX_ATTEMPTS and LEASE_DURATION must not be negative"))
	}
	if c.BackoffInitial <= 0 || c.BackoffMultiplier < 1 || c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		errs = append(errs, errors.New("backoff needs BACKOFF_INITIAL > 0, BACKOFF_MULTIPLIER >= 1 and BACKOFF_JITTER in [0, 1]"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// PoolConfig returns the connection pool settings. SQLite gets a single
// connection since it allows only one writer at a time; other drivers use
// DB_POOL_PRESET when set, else the individual DB_* values.
func (c Config) PoolConfig() storage.PoolConfig {
	if isSQLite(c.DBDriver) {
		return storage.SingleConnectionPoolConfig()
	}
	if preset, err := storage.PoolPreset(c.DBPoolPreset); err == nil {
		return preset
	}
	return storage.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		ConnMaxIdleTime: c.DBConnMaxIdleTime,
	}
}

// OpenConfig returns the storage settings.
func (c Config) OpenConfig() storage.OpenConfig {
	return storage.OpenConfig{
		Driver: c.DBDriver,
		DSN:    c.DBDSN,
		Debug:  c.DBDebug,
		Pool:   []storage.PoolOption{storage.WithPoolConfig(c.PoolConfig())},
	}
}

// BackoffPolicy returns the job retry policy.
func (c Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		Initial:    c.BackoffInitial,
		Max:        c.BackoffMax,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.BackoffJitter,
	}
}

// PollSchedule returns the cron schedule when POLL_CRON is set, otherwise
// the fixed interval.
func (c Config) PollSchedule() (schedule.Schedule, error) {
	if c.PollCron != "" {
		return schedule.ParseCron(c.PollCron)
	}
	return schedule.Every(c.PollInterval), nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", storage.DriverSQLite, "sqlite3":
		return true
	}
	return false
}
