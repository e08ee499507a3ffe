package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	// SQLiteLogSQL wraps the driver so every statement is logged at debug level.
	SQLiteLogSQL bool

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// APIKey guards the table API. Empty means open.
	APIKey        string
	SessionSecret string
	SessionTTL    time.Duration

	OutboxMaxAttempts    int
	OutboxInitialBackoff time.Duration
	OutboxMaxBackoff     time.Duration

	// TableURL is the base URL of a remote server, used by siloctl watch.
	TableURL     string
	TableTimeout time.Duration
}

// fileConfig mirrors the optional TOML file. Every key is the lower-case form of
// its environment variable; values from the environment win.
type fileConfig struct {
	AppEnv               string `toml:"app_env"`
	LogLevel             string `toml:"log_level"`
	HTTPAddr             string `toml:"http_addr"`
	DBDriver             string `toml:"db_driver"`
	DBDSN                string `toml:"db_dsn"`
	SQLitePath           string `toml:"sqlite_path"`
	DBMaxOpenConns       string `toml:"db_max_open_conns"`
	DBMaxIdleConns       string `toml:"db_max_idle_conns"`
	DBConnMaxLifetime    string `toml:"db_conn_max_lifetime"`
	DBLogSQL             string `toml:"db_log_sql"`
	MQTTEnabled          string `toml:"mqtt_enabled"`
	MQTTBroker           string `toml:"mqtt_broker"`
	MQTTPort             string `toml:"mqtt_port"`
	MQTTClientID         string `toml:"mqtt_client_id"`
	MQTTTopic            string `toml:"mqtt_topic"`
	APIKey               string `toml:"api_key"`
	SessionSecret        string `toml:"session_secret"`
	SessionTTL           string `toml:"session_ttl"`
	OutboxMaxAttempts    string `toml:"outbox_max_attempts"`
	OutboxInitialBackoff string `toml:"outbox_initial_backoff"`
	OutboxMaxBackoff     string `toml:"outbox_max_backoff"`
	TableURL             string `toml:"table_url"`
	TableTimeout         string `toml:"table_timeout"`
}

func (f fileConfig) values() map[string]string {
	return map[string]string{
		"APP_ENV":                f.AppEnv,
		"LOG_LEVEL":              f.LogLevel,
		"HTTP_ADDR":              f.HTTPAddr,
		"DB_DRIVER":              f.DBDriver,
		"DB_DSN":                 f.DBDSN,
		"SQLITE_PATH":            f.SQLitePath,
		"DB_MAX_OPEN_CONNS":      f.DBMaxOpenConns,
		"DB_MAX_IDLE_CONNS":      f.DBMaxIdleConns,
		"DB_CONN_MAX_LIFETIME":   f.DBConnMaxLifetime,
		"DB_LOG_SQL":             f.DBLogSQL,
		"MQTT_ENABLED":           f.MQTTEnabled,
		"MQTT_BROKER":            f.MQTTBroker,
		"MQTT_PORT":              f.MQTTPort,
		"MQTT_CLIENT_ID":         f.MQTTClientID,
		"MQTT_TOPIC":             f.MQTTTopic,
		"API_KEY":                f.APIKey,
		"SESSION_SECRET":         f.SessionSecret,
		"SESSION_TTL":            f.SessionTTL,
		"OUTBOX_MAX_ATTEMPTS":    f.OutboxMaxAttempts,
		"OUTBOX_INITIAL_BACKOFF": f.OutboxInitialBackoff,
		"OUTBOX_MAX_BACKOFF":     f.OutboxMaxBackoff,
		"TABLE_URL":              f.TableURL,
		"TABLE_TIMEOUT":          f.TableTimeout,
	}
}

// LoadFromEnv reads configuration from the environment. If CONFIG_FILE names a
// TOML file, its values fill in whatever the environment leaves unset.
func LoadFromEnv() (Config, error) {
	lookup := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }

	if path := lookup("CONFIG_FILE"); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		fileValues := fc.values()
		lookup = func(key string) string {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				return v
			}
			return strings.TrimSpace(fileValues[key])
		}
	}

	return load(lookup)
}

func load(lookup func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := lookup(key); v != "" {
			return v
		}
		return def
	}

	appEnv := get("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(get("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	maxOpenConns, err := parseInt("DB_MAX_OPEN_CONNS", get("DB_MAX_OPEN_CONNS", "1"))
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := parseInt("DB_MAX_IDLE_CONNS", get("DB_MAX_IDLE_CONNS", "1"))
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := parseDuration("DB_CONN_MAX_LIFETIME", get("DB_CONN_MAX_LIFETIME", "0s"))
	if err != nil {
		return Config{}, err
	}
	logSQL, err := parseBool("DB_LOG_SQL", get("DB_LOG_SQL", "false"))
	if err != nil {
		return Config{}, err
	}

	mqttEnabled, err := parseBool("MQTT_ENABLED", get("MQTT_ENABLED", "true"))
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := parseInt("MQTT_PORT", get("MQTT_PORT", "1883"))
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (must be 1-65535)", mqttPort)
	}

	sessionSecret := get("SESSION_SECRET", "")
	if sessionSecret == "" {
		if appEnv == "prod" {
			return Config{}, fmt.Errorf("SESSION_SECRET is required when APP_ENV=prod")
		}
		sessionSecret = "dev-session-secret"
	}
	sessionTTL, err := parseDuration("SESSION_TTL", get("SESSION_TTL", "12h"))
	if err != nil {
		return Config{}, err
	}

	maxAttempts, err := parseInt("OUTBOX_MAX_ATTEMPTS", get("OUTBOX_MAX_ATTEMPTS", "1"))
	if err != nil {
		return Config{}, err
	}
	if maxAttempts < 1 {
		return Config{}, fmt.Errorf("invalid OUTBOX_MAX_ATTEMPTS %d (must be >= 1)", maxAttempts)
	}
	initialBackoff, err := parseDuration("OUTBOX_INITIAL_BACKOFF", get("OUTBOX_INITIAL_BACKOFF", "500ms"))
	if err != nil {
		return Config{}, err
	}
	maxBackoff, err := parseDuration("OUTBOX_MAX_BACKOFF", get("OUTBOX_MAX_BACKOFF", "10s"))
	if err != nil {
		return Config{}, err
	}

	tableTimeout, err := parseDuration("TABLE_TIMEOUT", get("TABLE_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              get("HTTP_ADDR", ":8080"),
		SQLiteDriver:          get("DB_DRIVER", "sqlite3"),
		SQLiteDSN:             get("DB_DSN", ""),
		SQLitePath:            get("SQLITE_PATH", "dev/sqlite/silos.db"),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogSQL:          logSQL,
		MQTTEnabled:           mqttEnabled,
		MQTTBroker:            get("MQTT_BROKER", "localhost"),
		MQTTPort:              mqttPort,
		MQTTClientID:          get("MQTT_CLIENT_ID", "silo-monitor"),
		MQTTTopic:             get("MQTT_TOPIC", "silos/changes"),
		APIKey:                get("API_KEY", ""),
		SessionSecret:         sessionSecret,
		SessionTTL:            sessionTTL,
		OutboxMaxAttempts:     maxAttempts,
		OutboxInitialBackoff:  initialBackoff,
		OutboxMaxBackoff:      maxBackoff,
		TableURL:              get("TABLE_URL", "http://localhost:8080"),
		TableTimeout:          tableTimeout,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parseBool(key, s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
