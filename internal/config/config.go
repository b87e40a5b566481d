package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"horse.fit/pageid/internal/fingerprint"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"PAGEID_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PAGEID_DB_MAX_CONNS" default:"8"`
	// DBLockTimeout bounds waits for the per-URL resolve lock.
	DBLockTimeout time.Duration `envconfig:"PAGEID_DB_LOCK_TIMEOUT" default:"5s"`

	MatchMaxContentDistance  int     `envconfig:"MATCH_MAX_CONTENT_DISTANCE" default:"8"`
	MatchMinLayoutSimilarity float64 `envconfig:"MATCH_MIN_LAYOUT_SIMILARITY" default:"0.6"`
	MatchRequireCanonical    bool    `envconfig:"MATCH_REQUIRE_CANONICAL" default:"false"`

	CaptureNodeSampleLimit int `envconfig:"CAPTURE_NODE_SAMPLE_LIMIT" default:"80"`
	CaptureTokenLimit      int `envconfig:"CAPTURE_TOKEN_LIMIT" default:"200"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadOffline loads configuration for commands that never open the database.
func LoadOffline() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validateMatching(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PAGEID_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PAGEID_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PAGEID_DB_MIN_CONNS (%d) cannot exceed PAGEID_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBLockTimeout < time.Millisecond {
		return fmt.Errorf("PAGEID_DB_LOCK_TIMEOUT must be at least 1ms")
	}
	return c.validateMatching()
}

func (c *Config) validateMatching() error {
	if c.MatchMaxContentDistance < 0 || c.MatchMaxContentDistance > fingerprint.SignatureBits {
		return fmt.Errorf("MATCH_MAX_CONTENT_DISTANCE must be between 0 and %d", fingerprint.SignatureBits)
	}
	if c.MatchMinLayoutSimilarity <= 0 || c.MatchMinLayoutSimilarity > 1 {
		return fmt.Errorf("MATCH_MIN_LAYOUT_SIMILARITY must be in (0, 1]")
	}
	if c.CaptureNodeSampleLimit < 1 {
		return fmt.Errorf("CAPTURE_NODE_SAMPLE_LIMIT must be >= 1")
	}
	if c.CaptureTokenLimit < 1 {
		return fmt.Errorf("CAPTURE_TOKEN_LIMIT must be >= 1")
	}
	return nil
}

// CompareOptions returns the configured match thresholds.
func (c *Config) CompareOptions() fingerprint.CompareOptions {
	if c == nil {
		return fingerprint.CompareOptions{}
	}
	return fingerprint.CompareOptions{
		MaxContentDistance:        fingerprint.ContentDistanceOption(c.MatchMaxContentDistance),
		MinLayoutSimilarity:       c.MatchMinLayoutSimilarity,
		RequireCanonicalAgreement: c.MatchRequireCanonical,
	}
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
