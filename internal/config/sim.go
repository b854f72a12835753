package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SimConfig configures the synthetic driver load generator.
type SimConfig struct {
	DatabaseURL     string
	JWTSecret       string
	HubURL          string
	DriverUserIDs   []string
	PublishInterval time.Duration
	SpeedMultiplier float64
	SpeedKmh        float64
	LogLevel        string
}

func LoadSim() (*SimConfig, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &SimConfig{}
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}
	cfg.HubURL = getenvDefault("HUB_WS_URL", "ws://127.0.0.1:8080/ws")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	for _, id := range strings.Split(os.Getenv("SIM_DRIVER_USERS"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.DriverUserIDs = append(cfg.DriverUserIDs, id)
		}
	}
	if len(cfg.DriverUserIDs) == 0 {
		return nil, errors.New("SIM_DRIVER_USERS must list at least one driver user id")
	}

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	// Cruising speed between stops without a scheduled travel time
	if v := os.Getenv("SIM_SPEED_KMH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SIM_SPEED_KMH: %q", v)
		}
		cfg.SpeedKmh = f
	} else {
		cfg.SpeedKmh = 30
	}

	return cfg, nil
}
