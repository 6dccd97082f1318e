package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jxucoder/bashnotes/internal/config"
)

// configKey describes a single configuration value.
type configKey struct {
	Key     string
	Desc    string
	Default string
}

// allConfigKeys lists every configurable value in display order.
var allConfigKeys = []configKey{
	{"BASHNOTES_ADDR", "Server listen address", ":3012"},
	{"BASHNOTES_ROOT", "Notebook root directory", "(working directory)"},
	{"BASHNOTES_DATA_DIR", "Data directory for the history database", "~/.bashnotes"},
	{"BASHNOTES_DOCKER_IMAGE", "Image name prefix", "bashnotes-notebook"},
	{"BASHNOTES_DOCKER_NETWORK", "Docker network for builds and containers", "host"},
	{"BASHNOTES_MOUNT_POINT", "Where the notebook directory is mounted", "/home"},
	{"BASHNOTES_PING_INTERVAL", "Websocket ping interval", "5s"},
	{"BASHNOTES_EXPIRE_AFTER", "Close websockets silent this long", "30s"},
	{"BASHNOTES_CACHE_SIZE", "Parsed documents kept in memory", "128"},
	{"BASHNOTES_HISTORY", "Record runs in the history database", "true"},
	{"BASHNOTES_SERVER", "Server URL used by notify and runs", "http://localhost:3012"},
}

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bashnotes configuration",
	Long: `Manage bashnotes configuration.

Configuration is stored in ~/.bashnotes/config.env and can be overridden
by environment variables.

  bashnotes config set KEY VALUE      Set a single config value
  bashnotes config show               Show current configuration
  bashnotes config path               Print config file path`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  bashnotes config set BASHNOTES_ROOT ~/notes`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// ---------------------------------------------------------------------------
// Config file helpers
// ---------------------------------------------------------------------------

// loadConfigFile reads key=value pairs from the config file. A missing file
// yields an empty map.
func loadConfigFile() (map[string]string, error) {
	values, err := godotenv.Read(config.FilePath())
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	return values, err
}

// saveConfigFile writes key=value pairs to the config file.
func saveConfigFile(values map[string]string) error {
	path := config.FilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// effectiveValue returns the current value for a key, preferring env vars over config file.
func effectiveValue(key string, fileValues map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

func isKnownKey(key string) bool {
	for _, ck := range allConfigKeys {
		if ck.Key == key {
			return true
		}
	}
	return false
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if !isKnownKey(key) {
		return fmt.Errorf("unknown config key %q (see: bashnotes config show)", key)
	}

	fileValues, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if value == "" {
		delete(fileValues, key)
	} else {
		fileValues[key] = value
	}
	if err := saveConfigFile(fileValues); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

// runConfigShow displays the current effective configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	fileValues, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file: %s\n\n", config.FilePath())

	for _, ck := range allConfigKeys {
		value := effectiveValue(ck.Key, fileValues)
		source := ""
		if os.Getenv(ck.Key) != "" {
			source = " (from env)"
		} else if fileValues[ck.Key] != "" {
			source = " (from config file)"
		}
		if value == "" {
			value = ck.Default + " (default)"
		}
		fmt.Fprintf(out, "  %-26s %s%s\n", ck.Key, value, source)
		fmt.Fprintf(out, "  %-26s %s\n", "", ck.Desc)
	}
	return nil
}
