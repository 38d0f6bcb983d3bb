// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const dateLayout = "2006-01-02"

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the history database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Kite Connect credentials. KiteAccessToken wins over KiteTokenFile.
	KiteAPIKey      string
	KiteAccessToken string
	KiteTokenFile   string
	KiteBaseURL     string

	HistoryStart time.Time
	Instruments  string // Optional override, "SYMBOL:TOKEN:Name;..."

	RiskFreeRate float64
	TradingDays  int

	FrontierSamples     int
	FrontierCurvePoints int
	FrontierSeed        uint64
	FrontierWorkers     int // 0 = runtime.NumCPU()

	SolverMaxIterations int
	SolverTimeout       time.Duration // 0 = no limit

	PriceSyncSchedule string // cron expression with seconds, empty disables scheduled sync
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	env := &envReader{}

	dataDir, err := filepath.Abs(env.getString("FRONTIER_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel: env.getString("LOG_LEVEL", "info"),
		Port:     env.getInt("PORT", 5000),
		DevMode:  env.getBool("DEV_MODE", false),

		KiteAPIKey:      env.getString("KITE_API_KEY", ""),
		KiteAccessToken: env.getString("KITE_ACCESS_TOKEN", ""),
		KiteTokenFile:   env.getString("KITE_TOKEN_FILE", "token.txt"),
		KiteBaseURL:     env.getString("KITE_BASE_URL", "https://api.kite.trade"),

		HistoryStart: env.getDate("HISTORY_START_DATE", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
		Instruments:  env.getString("INSTRUMENTS", ""),

		RiskFreeRate: env.getFloat("RISK_FREE_RATE", 0.06),
		TradingDays:  env.getInt("TRADING_DAYS", 252),

		FrontierSamples:     env.getInt("FRONTIER_SAMPLES", 1000),
		FrontierCurvePoints: env.getInt("FRONTIER_CURVE_POINTS", 50),
		FrontierSeed:        env.getUint64("FRONTIER_SEED", 42),
		FrontierWorkers:     env.getInt("FRONTIER_WORKERS", 0),

		SolverMaxIterations: env.getInt("SOLVER_MAX_ITERATIONS", 1000),
		SolverTimeout:       env.getDuration("SOLVER_TIMEOUT", 0),

		PriceSyncSchedule: env.getString("PRICE_SYNC_SCHEDULE", "0 30 16 * * MON-FRI"),
	}

	if cfg.PriceSyncSchedule == "off" {
		cfg.PriceSyncSchedule = ""
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// Validate checks that every setting is within range
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if c.TradingDays <= 0 {
		errs = append(errs, fmt.Errorf("TRADING_DAYS must be positive, got %d", c.TradingDays))
	}
	if c.RiskFreeRate <= -1 || c.RiskFreeRate >= 1 {
		errs = append(errs, fmt.Errorf("RISK_FREE_RATE must be a decimal fraction in (-1, 1), got %g", c.RiskFreeRate))
	}
	if c.FrontierSamples < 1 {
		errs = append(errs, fmt.Errorf("FRONTIER_SAMPLES must be at least 1, got %d", c.FrontierSamples))
	}
	if c.FrontierCurvePoints < 0 {
		errs = append(errs, fmt.Errorf("FRONTIER_CURVE_POINTS must not be negative, got %d", c.FrontierCurvePoints))
	}
	if c.FrontierWorkers < 0 {
		errs = append(errs, fmt.Errorf("FRONTIER_WORKERS must not be negative, got %d", c.FrontierWorkers))
	}
	if c.SolverMaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("SOLVER_MAX_ITERATIONS must be positive, got %d", c.SolverMaxIterations))
	}
	if c.SolverTimeout < 0 {
		errs = append(errs, fmt.Errorf("SOLVER_TIMEOUT must not be negative, got %s", c.SolverTimeout))
	}
	if c.HistoryStart.After(time.Now()) {
		errs = append(errs, fmt.Errorf("HISTORY_START_DATE %s is in the future", c.HistoryStart.Format(dateLayout)))
	}
	if c.PriceSyncSchedule != "" {
		if _, err := cronParser.Parse(c.PriceSyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("PRICE_SYNC_SCHEDULE %q is invalid: %w", c.PriceSyncSchedule, err))
		}
	}

	return errors.Join(errs...)
}

// HistoryPath returns the location of the price history database
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// cronParser accepts the same six-field expressions as the scheduler
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// envReader reads typed environment variables, collecting parse errors
type envReader struct {
	errs []error
}

func (e *envReader) getString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return intVal
}

func (e *envReader) getUint64(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	uintVal, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid unsigned integer %q", key, value))
		return defaultValue
	}
	return uintVal
}

func (e *envReader) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return floatVal
}

func (e *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return defaultValue
	}
	return boolVal
}

func (e *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

func (e *envReader) getDate(key string, defaultValue time.Time) time.Time {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid date %q, expected YYYY-MM-DD", key, value))
		return defaultValue
	}
	return t
}
