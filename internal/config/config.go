// Package config provides configuration management for bashnotes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bashnotes server and CLI.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":3012").
	ServerAddr string

	// Root is the directory notebooks are served from. Every path a client
	// sends is resolved against it.
	Root string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite history database.
	DatabasePath string

	// DockerImage is the image name prefix. The per-directory tag is derived
	// from it with sandbox.ImageName.
	DockerImage string

	// DockerNetwork is used for both image builds and containers.
	DockerNetwork string

	// MountPoint is where the notebook directory appears in the container.
	MountPoint string

	// PingInterval is how often a websocket ping frame is sent.
	PingInterval time.Duration

	// ExpireAfter closes a websocket that has been silent this long.
	ExpireAfter time.Duration

	// CacheSize is the number of parsed documents kept in memory.
	CacheSize int

	// History enables recording runs and outputs in the SQLite store.
	History bool
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// godotenv.Load never overrides variables already in the environment.
	loadConfigFile()

	dataDir := envOr("BASHNOTES_DATA_DIR", DefaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	root := os.Getenv("BASHNOTES_ROOT")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	cfg := &Config{
		ServerAddr:    envOr("BASHNOTES_ADDR", ":3012"),
		Root:          root,
		DataDir:       dataDir,
		DatabasePath:  filepath.Join(dataDir, "bashnotes.db"),
		DockerImage:   envOr("BASHNOTES_DOCKER_IMAGE", "bashnotes-notebook"),
		DockerNetwork: envOr("BASHNOTES_DOCKER_NETWORK", "host"),
		MountPoint:    envOr("BASHNOTES_MOUNT_POINT", "/home"),
		PingInterval:  envOrDuration("BASHNOTES_PING_INTERVAL", 5*time.Second),
		ExpireAfter:   envOrDuration("BASHNOTES_EXPIRE_AFTER", 30*time.Second),
		CacheSize:     envOrInt("BASHNOTES_CACHE_SIZE", 128),
		History:       envOrBool("BASHNOTES_HISTORY", true),
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PingInterval <= 0 {
		return fmt.Errorf("BASHNOTES_PING_INTERVAL must be positive")
	}
	if c.ExpireAfter <= c.PingInterval {
		return fmt.Errorf("BASHNOTES_EXPIRE_AFTER (%s) must exceed BASHNOTES_PING_INTERVAL (%s)",
			c.ExpireAfter, c.PingInterval)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("BASHNOTES_CACHE_SIZE must be positive")
	}
	if !filepath.IsAbs(c.MountPoint) {
		return fmt.Errorf("BASHNOTES_MOUNT_POINT must be an absolute path, got %q", c.MountPoint)
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", c.Root)
	}
	return nil
}

// FilePath returns the location of the config file.
func FilePath() string {
	return filepath.Join(DefaultDataDir(), "config.env")
}

// loadConfigFile reads ~/.bashnotes/config.env and sets any values that are
// not already present in the environment.
func loadConfigFile() {
	// A missing file is fine.
	_ = godotenv.Load(FilePath())
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DefaultDataDir returns ~/.bashnotes, or a relative .bashnotes when the home
// directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bashnotes"
	}
	return filepath.Join(home, ".bashnotes")
}
