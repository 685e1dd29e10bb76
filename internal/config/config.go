package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds all configuration for the modelfetch service
type Config struct {
	// Server configuration
	Host string
	Port int
	Addr string // computed from Host:Port

	// File system
	DBPath    string // user-provided
	AbsDBPath string // resolved/absolute path

	// Model sources. Either a manifest lists several models, or the
	// single-model fields describe one.
	ManifestPath   string
	ModelName      string
	ModelURL       string
	ModelCachePath string

	// Loader policy defaults (per-model manifest entries may override)
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxModelAge    time.Duration // 0 means rely on the model's own expiry marker

	// Serving
	ModelCacheSize int    // LRU capacity for finished models
	MetricsPrefix  string // namespace for exported metrics

	// Logging
	LogLevel string // debug|info|warn|error

	// Validation & computed
	Version   string    // app version
	StartTime time.Time // when the app started
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		MaxAttempts:    2,
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
		ModelCacheSize: 16,
		MetricsPrefix:  "modelfetch",
		LogLevel:       "info",
		StartTime:      time.Now(),
		Version:        "1.0.0", // TODO: could be set from build flags
	}
}

// FromEnv overlays MODELFETCH_* environment variables onto the config.
// Flags parsed after this call win.
func (c *Config) FromEnv() {
	if v := os.Getenv("MODELFETCH_MODEL_NAME"); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv("MODELFETCH_MODEL_URL"); v != "" {
		c.ModelURL = v
	}
	if v := os.Getenv("MODELFETCH_MODEL_CACHE"); v != "" {
		c.ModelCachePath = v
	}
	if v := os.Getenv("MODELFETCH_MANIFEST"); v != "" {
		c.ManifestPath = v
	}
	if v := os.Getenv("MODELFETCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	// Validate port range
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	// Validate loader policy
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Minute
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.ModelCacheSize < 1 {
		c.ModelCacheSize = 16
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	// Compute address
	c.Addr = c.ComputeAddr()

	return nil
}

// ResolveDBPath expands the database path and resolves it to an absolute path
// If empty, defaults to OS cache directory
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultJournalDBPath()
	}

	expanded, err := expandHome(c.DBPath)
	if err != nil {
		return err
	}
	c.DBPath = expanded

	// Resolve to absolute path
	abs, err := filepath.Abs(c.DBPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.DBPath, err)
	}
	c.AbsDBPath = abs

	return nil
}

// ResolveModelCachePath expands ~ in the single-model cache path.
func (c *Config) ResolveModelCachePath() error {
	if c.ModelCachePath == "" {
		return nil
	}
	expanded, err := expandHome(c.ModelCachePath)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", expanded, err)
	}
	c.ModelCachePath = abs
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return home, nil
	}
	return path, nil
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a pretty-printed representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf(`Config{
  Server:
    Host: %s
    Port: %d
    Addr: %s
  Files:
    DBPath: %s (resolved: %s)
    Manifest: %s
  Loader:
    MaxAttempts: %d
    InitialBackoff: %s
    MaxBackoff: %s
    MaxModelAge: %s
    ModelCacheSize: %d
  Logging:
    LogLevel: %s
  Meta:
    Version: %s
    StartTime: %s
}`, c.Host, c.Port, c.Addr,
		c.DBPath, c.AbsDBPath,
		c.ManifestPath,
		c.MaxAttempts, c.InitialBackoff, c.MaxBackoff, c.MaxModelAge, c.ModelCacheSize,
		c.LogLevel,
		c.Version, c.StartTime.Format(time.RFC3339))
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":             c.Addr,
		"db_path":          c.AbsDBPath,
		"manifest":         c.ManifestPath,
		"max_attempts":     c.MaxAttempts,
		"initial_backoff":  c.InitialBackoff.String(),
		"max_backoff":      c.MaxBackoff.String(),
		"model_cache_size": c.ModelCacheSize,
		"log_level":        c.LogLevel,
		"version":          c.Version,
	}
}

// defaultJournalDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/modelfetch/modelfetch.db
// - Linux/macOS: $HOME/.cache/modelfetch/modelfetch.db
func defaultJournalDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "modelfetch", "modelfetch.db")
		}
		// Fallback to user home if APPDATA is not set
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "modelfetch", "modelfetch.db")
		}
		// Last resort: current directory
		return "modelfetch.db"
	}
	// Linux/macOS default cache location
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "modelfetch", "modelfetch.db")
	}
	// Fallback: place in working directory
	return filepath.Join("modelfetch", "modelfetch.db")
}
