package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string        `env:"MARATHON_ADDR" envDefault:":8080"`
	DBPath       string        `env:"MARATHON_DB_PATH" envDefault:"./data/marathon.db"`
	SeedFile     string        `env:"MARATHON_SEED_FILE" envDefault:"./data/bible.yaml"`
	ActiveWindow time.Duration `env:"MARATHON_ACTIVE_WINDOW" envDefault:"1h"`
	GinMode      string        `env:"MARATHON_GIN_MODE" envDefault:"release"`
	EventBuffer  int           `env:"MARATHON_EVENT_BUFFER" envDefault:"100"`
}

// Load reads an optional .env file (variables already set win), then parses
// the environment.
func Load(dotenvPaths ...string) (Config, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, p := range dotenvPaths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ActiveWindow <= 0 {
		return Config{}, fmt.Errorf("MARATHON_ACTIVE_WINDOW must be positive, got %s", cfg.ActiveWindow)
	}
	if cfg.EventBuffer < 0 {
		return Config{}, fmt.Errorf("MARATHON_EVENT_BUFFER must not be negative, got %d", cfg.EventBuffer)
	}
	return cfg, nil
}
