package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	NATSURL         string
	ListenAddr      string
	MetricsAddr     string
	JWTSecret       string
	LogLevel        string
	LogNATSSubjects bool
	InstanceID      string

	// SessionStore selects the session cache backend: "nats" or "memory".
	SessionStore    string
	SessionTTL      time.Duration
	LocationTTL     time.Duration
	ETATTL          time.Duration
	ActiveTripTTL   time.Duration
	ETAStopLimit    int
	AverageSpeedKmh float64
	LocationRate    float64 // fixes per second per connection; 0 disables
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	// Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))
	cfg.InstanceID = getenvDefault("INSTANCE_ID", uuid.NewString())

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	cfg.SessionStore = strings.ToLower(getenvDefault("SESSION_STORE", "nats"))
	if cfg.SessionStore != "nats" && cfg.SessionStore != "memory" {
		return nil, fmt.Errorf("invalid SESSION_STORE: %q", cfg.SessionStore)
	}

	var err error
	if cfg.SessionTTL, err = secondsEnv("SESSION_TTL_SEC", 3600); err != nil {
		return nil, err
	}
	if cfg.LocationTTL, err = secondsEnv("LOCATION_TTL_SEC", 300); err != nil {
		return nil, err
	}
	if cfg.ETATTL, err = secondsEnv("ETA_TTL_SEC", 60); err != nil {
		return nil, err
	}
	if cfg.ActiveTripTTL, err = secondsEnv("ACTIVE_TRIP_TTL_SEC", 86400); err != nil {
		return nil, err
	}

	if v := os.Getenv("ETA_STOP_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ETA_STOP_LIMIT: %q", v)
		}
		cfg.ETAStopLimit = n
	} else {
		cfg.ETAStopLimit = 5
	}

	if v := os.Getenv("AVERAGE_SPEED_KMH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid AVERAGE_SPEED_KMH: %q", v)
		}
		cfg.AverageSpeedKmh = f
	} else {
		cfg.AverageSpeedKmh = 30
	}

	if v := os.Getenv("LOCATION_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid LOCATION_RATE_PER_SEC: %q", v)
		}
		cfg.LocationRate = f
	}

	return cfg, nil
}

func secondsEnv(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
