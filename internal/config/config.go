package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	StationID  string
	TerminalID string
	// NodeID seeds the snowflake generator; unique per terminal sharing a DB.
	NodeID int64

	OTLPEndpoint string

	Cloud CloudConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Device    DeviceConfig
	POS       POSConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Authz     AuthzConfig
	RateLimit RateLimitConfig
}

// DeviceConfig points at the cash recycler bridge.
type DeviceConfig struct {
	// Driver is "bridge" for the real recycler or "simulator" for a bench
	// setup without hardware.
	Driver       string
	BaseURL      string
	User         string
	Timeout      time.Duration
	PollInterval time.Duration
}

// POSConfig selects the POS vendor adapter and its endpoint.
type POSConfig struct {
	Enabled      bool
	Vendor       string
	BaseURL      string
	TCPAddr      string
	Timeout      time.Duration
	MaxRetries   int
	BatchSize    int
	SourceSystem string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// RateLimitConfig throttles manual POS retries per transaction. It shares the
// Redis connection settings with the device lock.
type RateLimitConfig struct {
	Enabled       bool
	PosRetryRate  float64
	PosRetryBurst int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	EnabledJobs []string
}

// AuthzConfig controls staff role checks on the HTTP API. StaffRoles seeds
// role assignments at boot, keyed by staff id.
type AuthzConfig struct {
	Enabled    bool
	StaffRoles map[string]string
}

type CloudConfig struct {
	Metrics CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "cashstation"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		StationID:    strings.TrimSpace(getenv("STATION_ID", "station-1")),
		TerminalID:   strings.TrimSpace(getenv("TERMINAL_ID", "terminal-1")),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
				Interval:  getenvDuration("CLOUD_METRICS_INTERVAL", 5*time.Minute),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cashstation"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "cashstation.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Device: DeviceConfig{
			Driver:       strings.ToLower(getenv("DEVICE_DRIVER", "bridge")),
			BaseURL:      strings.TrimRight(getenv("DEVICE_BASE_URL", "http://127.0.0.1:8081"), "/"),
			User:         getenv("DEVICE_USER", "cashstation"),
			Timeout:      getenvDuration("DEVICE_TIMEOUT", 10*time.Second),
			PollInterval: getenvDuration("DEVICE_POLL_INTERVAL", time.Second),
		},
		POS: POSConfig{
			Enabled:      getenvBool("POS_ENABLED", true),
			Vendor:       strings.ToLower(getenv("POS_VENDOR", "flowco_http")),
			BaseURL:      strings.TrimRight(getenv("POS_BASE_URL", "http://127.0.0.1:9000"), "/"),
			TCPAddr:      strings.TrimSpace(getenv("POS_TCP_ADDR", "")),
			Timeout:      getenvDuration("POS_TIMEOUT", 5*time.Second),
			MaxRetries:   getenvInt("POS_MAX_RETRIES", 5),
			BatchSize:    getenvInt("POS_RETRY_BATCH_SIZE", 100),
			SourceSystem: getenv("POS_SOURCE_SYSTEM", "cashstation"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			LockTTL:  getenvDuration("DEVICE_LOCK_TTL", 30*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			EnabledJobs: parseList(getenv("SCHEDULER_JOBS", "")),
		},
		Authz: AuthzConfig{
			Enabled:    getenvBool("AUTHZ_ENABLED", false),
			StaffRoles: parseAssignments(getenv("STAFF_ROLES", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			PosRetryRate:  getenvFloat("RATE_LIMIT_POS_RETRY_RATE", 0.1),
			PosRetryBurst: getenvInt("RATE_LIMIT_POS_RETRY_BURST", 3),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("1500ms") or plain seconds ("10").
func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseAssignments reads "id:value" pairs separated by commas.
func parseAssignments(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range parseList(raw) {
		key, value, ok := strings.Cut(item, ":")
		key = strings.TrimSpace(key)
		value = strings.ToLower(strings.TrimSpace(value))
		if !ok || key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
