package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	DatabaseURL       string
	BackendURL        string
	BackendAPIKey     string
	Location          *time.Location
	FlushInterval     time.Duration
	Debounce          time.Duration
	MirrorMaxAttempts int
	BackendTimeout    time.Duration
}

// LoadDotEnv reads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.Printf("[Server] Loaded environment from %s\n", path)
	return nil
}

func Load() (Config, error) {
	zone := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Config{}, fmt.Errorf("loading time zone %q: %w", zone, err)
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BackendURL:        getEnv("BACKEND_URL", "http://localhost:54321"),
		BackendAPIKey:     os.Getenv("BACKEND_API_KEY"),
		Location:          loc,
		FlushInterval:     getEnvMillis("FLUSH_INTERVAL_MS", 1000),
		Debounce:          getEnvMillis("DEBOUNCE_MS", 2000),
		MirrorMaxAttempts: getEnvInt("MIRROR_MAX_ATTEMPTS", 5),
		BackendTimeout:    getEnvMillis("BACKEND_TIMEOUT_MS", 10000),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}
