package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "webmvc.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "WEBMVC_PORT")
	setString(&cfg.Server.CORSOrigin, "WEBMVC_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadTimeout, "WEBMVC_READ_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "WEBMVC_SHUTDOWN_TIMEOUT")

	// Dispatch
	setBool(&cfg.Dispatch.ThrowIfNoHandler, "WEBMVC_THROW_IF_NO_HANDLER")
	setBool(&cfg.Dispatch.CleanupAfterInclude, "WEBMVC_CLEANUP_AFTER_INCLUDE")
	setBool(&cfg.Dispatch.PublishEvents, "WEBMVC_PUBLISH_EVENTS")
	setBool(&cfg.Dispatch.DispatchTrace, "WEBMVC_DISPATCH_TRACE")
	setBool(&cfg.Dispatch.DispatchOptions, "WEBMVC_DISPATCH_OPTIONS")
	setBool(&cfg.Dispatch.ExposeErrors, "WEBMVC_EXPOSE_ERRORS")
	setInt(&cfg.Dispatch.MaxIncludeDepth, "WEBMVC_MAX_INCLUDE_DEPTH")

	// Async
	setDuration(&cfg.Async.Timeout, "WEBMVC_ASYNC_TIMEOUT")
	setInt64(&cfg.Async.MaxConcurrent, "WEBMVC_ASYNC_MAX_CONCURRENT")

	// Flash
	setString(&cfg.Flash.Store, "WEBMVC_FLASH_STORE")
	setDuration(&cfg.Flash.Timeout, "WEBMVC_FLASH_TIMEOUT")
	setString(&cfg.Flash.CookieName, "WEBMVC_FLASH_COOKIE")
	setBool(&cfg.Flash.Secure, "WEBMVC_FLASH_SECURE")
	setString(&cfg.Flash.Bucket, "WEBMVC_FLASH_BUCKET")
	setDuration(&cfg.Flash.SessionTTL, "WEBMVC_FLASH_SESSION_TTL")

	// Views
	setString(&cfg.Views.Dir, "WEBMVC_VIEWS_DIR")
	setString(&cfg.Views.Prefix, "WEBMVC_VIEWS_PREFIX")
	setString(&cfg.Views.Suffix, "WEBMVC_VIEWS_SUFFIX")
	setInt64(&cfg.Views.CacheSize, "WEBMVC_VIEWS_CACHE_SIZE")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "WEBMVC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "WEBMVC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "WEBMVC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "WEBMVC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "WEBMVC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "WEBMVC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "WEBMVC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "WEBMVC_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "WEBMVC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "WEBMVC_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "WEBMVC_RATE_RPS")
	setInt(&cfg.Rate.Burst, "WEBMVC_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "WEBMVC_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "WEBMVC_RATE_MAX_IDLE_TIME")

	// OpenTelemetry
	setString(&cfg.OTEL.Exporter, "WEBMVC_OTEL_EXPORTER")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "WEBMVC_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRatio, "WEBMVC_OTEL_SAMPLE_RATIO")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Flash.Store {
	case "memory":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for flash.store nats")
		}
		if cfg.Flash.Bucket == "" {
			return errors.New("flash.bucket is required for flash.store nats")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for flash.store postgres")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("flash.store %q is not one of memory, nats, postgres", cfg.Flash.Store)
	}
	switch cfg.OTEL.Exporter {
	case "none", "otlp", "prometheus":
	default:
		return fmt.Errorf("otel.exporter %q is not one of none, otlp, prometheus", cfg.OTEL.Exporter)
	}
	if cfg.Async.MaxConcurrent < 1 {
		return errors.New("async.max_concurrent must be >= 1")
	}
	if cfg.Async.Timeout < 0 {
		return errors.New("async.timeout must not be negative")
	}
	if cfg.Flash.Timeout <= 0 {
		return errors.New("flash.timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Rate.CleanupInterval <= 0 {
		return errors.New("rate.cleanup_interval must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
