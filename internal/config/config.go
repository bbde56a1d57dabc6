package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

// Storage backends
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds all daemon configuration
type Config struct {
	ServerPort string

	//Storage configuration
	StoreBackend   string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	SQLitePath     string

	//Browser configuration
	CDPHost         string
	CDPPort         string
	CDPPollInterval time.Duration
	BrowserLaunch   bool
	ChromiumPath    string
	BrowserProfile  string

	//Sync configuration
	SyncTimeout    time.Duration
	SeedConfigFile string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		StoreBackend:   getEnv("STORE_BACKEND", StoreSQLite),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "tracker:"),
		SQLitePath:     getEnv("SQLITE_PATH", defaultSQLitePath()),

		CDPHost:         getEnv("CDP_HOST", "localhost"),
		CDPPort:         getEnv("CDP_PORT", "9222"),
		CDPPollInterval: getEnvAsDuration("CDP_POLL_INTERVAL", 2*time.Second),
		BrowserLaunch:   getEnvAsBool("BROWSER_LAUNCH", false),
		BrowserProfile:  getEnv("BROWSER_PROFILE", ""),

		SyncTimeout:    getEnvAsDuration("SYNC_TIMEOUT", 30*time.Second),
		SeedConfigFile: getEnv("TRACKER_CONFIG_FILE", ""),
	}

	if cfg.StoreBackend != StoreRedis && cfg.StoreBackend != StoreSQLite {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q, expected %s or %s", cfg.StoreBackend, StoreRedis, StoreSQLite)
	}

	if cfg.BrowserLaunch {
		chromiumPath, err := findChromium()
		if err != nil {
			return nil, err
		}
		cfg.ChromiumPath = chromiumPath
	}

	return cfg, nil
}

// LoadSeed reads the tracker settings file. The file only needs the fields it
// overrides; everything else keeps its default.
func LoadSeed(path string) (*session.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	seed := session.DefaultConfig()
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tracker.db"
	}
	return filepath.Join(dir, "browser-usage-tracker", "tracker.db")
}

func getEnv(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return boolVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return duration
}

// Function to find the Chromium binary path
func findChromium() (string, error) {

	// Check if CHROMIUM_PATH environment variable is set
	customPath := os.Getenv("CHROMIUM_PATH")
	if customPath != "" {

		// Validate the custom path exists
		if !fileExists(customPath) {
			return "", fmt.Errorf("chromium binary not found at path: %s", customPath)
		}

		// Validate the custom path is executable
		if !isExecutable(customPath) {
			return "", fmt.Errorf("chromium binary found but not executable: %s", customPath)
		}
		return customPath, nil
	}

	currentOS := runtime.GOOS

	for _, path := range getChromiumPaths(currentOS) {
		if fileExists(path) && isExecutable(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("chromium not found in common paths for %s, set CHROMIUM_PATH environment variable", currentOS)
}

// getChromiumPaths returns common Chromium installation paths based on OS.
func getChromiumPaths(operatingSystem string) []string {
	// macOS paths
	if operatingSystem == "darwin" {
		return []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		}
	}

	// Linux paths
	if operatingSystem == "linux" {
		return []string{
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/usr/bin/google-chrome",
			"/snap/bin/chromium",
		}
	}

	// TODO: Add Windows paths later

	// Unsupported OS
	return []string{}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
