// Package config loads the risk monitor's configuration from environment
// variables (.env file first, matching the teacher's load order), grouping
// per-component options exactly as spec.md §6 enumerates them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/onchainrisk/monitor/internal/alerts"
	"github.com/onchainrisk/monitor/internal/cache"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/monitor"
	"github.com/onchainrisk/monitor/internal/prices"
	"github.com/onchainrisk/monitor/internal/reliability"
)

// Config is the top-level configuration, grouping the per-component configs
// spec.md §6 names (Retry, Circuit, Cache, Price, Monitor, Alert) alongside
// the ambient concerns (chain RPC endpoints, persistence, logging).
type Config struct {
	DataDir  string // base directory for the sqlite file and archive staging
	LogLevel string // debug, info, warn, error
	Port     int    // HTTP surface port (health/metrics/ws bridge)
	DevMode  bool

	ChainRPC  map[uint32]string // chain id -> JSON-RPC endpoint URL
	Owners    []domain.Address  // wallets tracked at startup
	RedisAddr string            // empty disables tier-2 cache

	ArchiveEnabled         bool
	ArchiveBucket          string
	ArchiveAccountID       string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	RetentionWindow        time.Duration
	RetentionCron          string // cron expression the retention job runs on

	Retry   reliability.RetryPolicy
	Circuit reliability.CircuitConfig
	Cache   cache.NamespaceConfig
	Price   prices.Config
	Monitor monitor.Config
	Alert   alerts.Config
}

// Load reads configuration from environment variables, following the
// teacher's order: .env file first (if present), then environment, then
// validation. dataDirOverride takes the highest priority for DataDir, as in
// the teacher's CLI-flag-over-env-over-default resolution.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := ""
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("MONITOR_DATA_DIR", "")
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("MONITOR_PORT", 8090),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		ChainRPC:  getChainRPCMap(),
		Owners:    getOwnersList(),
		RedisAddr: getEnv("REDIS_ADDR", ""),

		ArchiveEnabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
		ArchiveBucket:          getEnv("ARCHIVE_BUCKET", ""),
		ArchiveAccountID:       getEnv("ARCHIVE_ACCOUNT_ID", ""),
		ArchiveAccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
		ArchiveSecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		RetentionWindow:        getEnvAsDuration("RETENTION_WINDOW", 30*24*time.Hour),
		RetentionCron:          getEnv("RETENTION_CRON", "0 0 3 * * *"), // seconds-resolution cron (robfig/cron WithSeconds): daily at 03:00

		Retry: reliability.RetryPolicy{
			MaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", reliability.RetryProfileBlockchainRPC.MaxAttempts),
			BaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", reliability.RetryProfileBlockchainRPC.BaseDelay),
			MaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", reliability.RetryProfileBlockchainRPC.MaxDelay),
			Multiplier:     getEnvAsFloat("RETRY_MULTIPLIER", reliability.RetryProfileBlockchainRPC.Multiplier),
			JitterFraction: getEnvAsFloat("RETRY_JITTER_FRACTION", reliability.RetryProfileBlockchainRPC.JitterFraction),
		},
		Circuit: reliability.CircuitConfig{
			FailureThreshold:     getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", reliability.DefaultCircuitConfig.FailureThreshold),
			SuccessThreshold:     getEnvAsInt("CIRCUIT_SUCCESS_THRESHOLD", reliability.DefaultCircuitConfig.SuccessThreshold),
			Timeout:              getEnvAsDuration("CIRCUIT_TIMEOUT", reliability.DefaultCircuitConfig.Timeout),
			HalfOpenMaxInflight:  getEnvAsInt("CIRCUIT_HALF_OPEN_MAX_INFLIGHT", reliability.DefaultCircuitConfig.HalfOpenMaxInflight),
			HalfOpenTestInterval: getEnvAsDuration("CIRCUIT_HALF_OPEN_TEST_INTERVAL", reliability.DefaultCircuitConfig.HalfOpenTestInterval),
			Window:               getEnvAsDuration("CIRCUIT_WINDOW", reliability.DefaultCircuitConfig.Window),
		},
		Cache: cache.NamespaceConfig{
			TTL:             getEnvAsDuration("CACHE_TTL", 60*time.Second),
			MaxEntries:      getEnvAsInt("CACHE_MAX_ENTRIES", 10_000),
			NegativeTTL:     getEnvAsDuration("CACHE_NEGATIVE_TTL", 5*time.Second),
			ExternalEnabled: getEnvAsBool("CACHE_EXTERNAL_ENABLED", false),
		},
		Price: prices.Config{
			MinSourcesRequired:      getEnvAsInt("PRICE_MIN_SOURCES_REQUIRED", 2),
			PriceStaleness:          getEnvAsDuration("PRICE_STALENESS", 2*time.Minute),
			MaxDeviationPercentHard: getEnvAsFloat("PRICE_MAX_DEVIATION_PERCENT_HARD", 10.0),
			AnomalyThresholdPercent: getEnvAsFloat("PRICE_ANOMALY_THRESHOLD_PERCENT", 5.0),
			RollingWindowSize:       getEnvAsInt("PRICE_ROLLING_WINDOW_SIZE", 20),
			CacheTTL:                getEnvAsDuration("PRICE_CACHE_TTL", 15*time.Second),
		},
		Monitor: monitor.Config{
			TickInterval:        getEnvAsDuration("MONITOR_TICK_INTERVAL", monitor.DefaultConfig.TickInterval),
			MaxConcurrentTicks:  getEnvAsInt("MONITOR_MAX_CONCURRENT_TICKS", monitor.DefaultConfig.MaxConcurrentTicks),
			FactorDeltaEmit:     getEnvAsFloat("MONITOR_FACTOR_DELTA_EMIT", monitor.DefaultConfig.FactorDeltaEmit),
			ZeroAmountTickLimit: getEnvAsInt("MONITOR_ZERO_AMOUNT_TICK_LIMIT", monitor.DefaultConfig.ZeroAmountTickLimit),
		},
		Alert: alerts.Config{
			ResolveHysteresisTicks: getEnvAsInt("ALERT_RESOLVE_HYSTERESIS_TICKS", alerts.DefaultConfig.ResolveHysteresisTicks),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces what's checkable before price sources are wired in the
// composition root; Price.Validate() (weights, MinSourcesRequired) runs
// again once cmd/monitor attaches concrete Source implementations.
func (c *Config) Validate() error {
	if len(c.ChainRPC) == 0 {
		return fmt.Errorf("at least one CHAIN_RPC_<id> endpoint must be configured")
	}
	if c.ArchiveEnabled && c.ArchiveBucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET required when ARCHIVE_ENABLED is true")
	}
	return nil
}

// getChainRPCMap reads CHAIN_RPC_<chainid>=<url> pairs from the environment,
// e.g. CHAIN_RPC_1 for Ethereum mainnet, CHAIN_RPC_42161 for Arbitrum.
func getChainRPCMap() map[uint32]string {
	out := map[uint32]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "CHAIN_RPC_") || v == "" {
			continue
		}
		idStr := strings.TrimPrefix(k, "CHAIN_RPC_")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		out[uint32(id)] = v
	}
	return out
}

// getOwnersList parses MONITOR_OWNERS as a comma-separated list of 0x
// addresses; malformed entries are skipped rather than failing startup.
func getOwnersList() []domain.Address {
	raw := getEnv("MONITOR_OWNERS", "")
	if raw == "" {
		return nil
	}
	var out []domain.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := domain.ParseAddress(part)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
