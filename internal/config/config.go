package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName             = "StokvelPay"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultShutdownDelay       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultOpenPaymentsTimeout = 30 * time.Second
	defaultCycleLockTTL        = 2 * time.Minute
	defaultAggregationCeiling  = "100000000"
	idemTTLSecondsEnvVar       = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar           = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar      = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar     = "SHUTDOWN_TIMEOUT"
	opTimeoutEnvVar            = "OPEN_PAYMENTS_TIMEOUT"
	cycleLockTTLEnvVar         = "CYCLE_LOCK_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	CycleLockTTL   time.Duration

	OpenPayments OpenPayments
	// AggregationCeiling is the limit value granted to stokvel aggregation authorizations.
	AggregationCeiling string
}

// OpenPayments configures the client used against wallets, auth and resource servers.
type OpenPayments struct {
	ClientWallet string
	// FinishURI is the public base URL the consent redirect returns to.
	FinishURI string
	Timeout   time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		CycleLockTTL:   defaultCycleLockTTL,
		OpenPayments: OpenPayments{
			ClientWallet: os.Getenv("OPEN_PAYMENTS_CLIENT_WALLET"),
			FinishURI:    os.Getenv("OPEN_PAYMENTS_FINISH_URI"),
			Timeout:      defaultOpenPaymentsTimeout,
		},
		AggregationCeiling: getEnv("STOKVEL_AGGREGATION_CEILING", defaultAggregationCeiling),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.OpenPayments.Timeout, err = durationEnv("", opTimeoutEnvVar, cfg.OpenPayments.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.CycleLockTTL, err = durationEnv("", cycleLockTTLEnvVar, cfg.CycleLockTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings. Postgres, Redis, the JWT secret and the
// consent callback URL are only optional in development.
func (c Config) Validate() error {
	if c.OpenPayments.ClientWallet == "" {
		return fmt.Errorf("OPEN_PAYMENTS_CLIENT_WALLET must be set")
	}
	if _, err := strconv.ParseUint(c.AggregationCeiling, 10, 64); err != nil {
		return fmt.Errorf("invalid STOKVEL_AGGREGATION_CEILING: %w", err)
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.OpenPayments.FinishURI == "" {
		return fmt.Errorf("OPEN_PAYMENTS_FINISH_URI must be set")
	}
	return nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads whole seconds from secondsKey, else a Go duration from durationKey.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
