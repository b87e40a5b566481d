package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pageid/internal/cli"
	"horse.fit/pageid/internal/config"
	"horse.fit/pageid/internal/db"
	"horse.fit/pageid/internal/logging"
)

var stdout io.Writer = os.Stdout

func printJSON(value any) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func loadEnvFile(envLoader *cli.EnvLoader) {
	if envLoader == nil {
		return
	}
	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// loadOffline loads config and a stderr logger for commands that never touch the database.
func loadOffline(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	loadEnvFile(envLoader)

	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewWithWriter(os.Stderr, cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

type connection struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func connect(ctx context.Context, envLoader *cli.EnvLoader, timeout time.Duration) (*connection, error) {
	loadEnvFile(envLoader)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewWithWriter(os.Stderr, cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &connection{cfg: cfg, logger: logger, pool: pool}, nil
}

func (c *connection) Close() {
	if c != nil && c.pool != nil {
		_ = c.pool.Close()
	}
}

func readInput(path string) ([]byte, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if trimmed == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(trimmed)
}
