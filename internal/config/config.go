// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Server   ServerConfig
	Provider ProviderConfig
	Labeler  LabelerConfig
	Scan     ScanConfig
	Review   ReviewConfig
	Storage  StorageConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8083)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 0, streaming endpoints need no cap)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
}

// ProviderConfig holds recognition provider (audio fingerprinting) configuration.
type ProviderConfig struct {
	// URL is the provider scan endpoint.
	URL string
	// APIToken authenticates against the provider. Required for scanning.
	APIToken string
	// Timeout bounds a single recognition call (default: 60s).
	Timeout time.Duration
	// RequestsPerSecond and Burst throttle outbound calls (provider bills per request).
	RequestsPerSecond float64
	Burst             int
}

// LabelerConfig holds label authority configuration.
type LabelerConfig struct {
	// IssuerDID identifies the signing authority (e.g., did:web:moderation.chorus.fm).
	IssuerDID string
	// SigningKeyHex is the hex-encoded P-256 private key scalar.
	SigningKeyHex string
	// KeyVersion names the active key so verifiers can resolve rotated keys.
	KeyVersion string
}

// ScanConfig holds scan orchestration configuration.
type ScanConfig struct {
	// Policy selects the flagging policy: "presence" or "threshold".
	Policy string
	// Threshold is the minimum match confidence (0-100) for the threshold policy.
	Threshold int
	// MaxDuration is the content-length ceiling above which scans are skipped.
	// The provider bills per time unit; long-form mixes are cost-prohibitive.
	MaxDuration time.Duration
	// BackfillInterval is how often the reconciliation job retries
	// provider_error scans and missing label emissions.
	BackfillInterval time.Duration
}

// ReviewConfig holds review workflow configuration.
type ReviewConfig struct {
	// AuthToken is the shared secret for admin/review endpoints.
	AuthToken string
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DataPath is the base directory for the sqlite database and raw-payload archive.
	DataPath string
	// ArchiveKeepPerSubject caps retained raw provider payloads per subject.
	ArchiveKeepPerSubject int
}

// DatabasePath returns the sqlite database file path.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.DataPath, "moderation.db")
}

// ArchivePath returns the badger archive directory.
func (s StorageConfig) ArchivePath() string {
	return filepath.Join(s.DataPath, "archive")
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	serverPort := flag.String("port", "", "Server port (default: 8083)")
	dataPath := flag.String("data-path", "", "Base path for database and archive storage")

	providerURL := flag.String("provider-url", "", "Recognition provider scan endpoint")
	providerToken := flag.String("provider-token", "", "Recognition provider API token")
	providerTimeout := flag.String("provider-timeout", "", "Recognition call timeout (default: 60s)")

	issuerDID := flag.String("issuer-did", "", "DID of the label signing authority")
	signingKey := flag.String("signing-key", "", "Hex-encoded P-256 signing key")
	keyVersion := flag.String("key-version", "", "Active signing key version (default: 1)")

	scanPolicy := flag.String("scan-policy", "", "Flagging policy: presence or threshold")
	scanThreshold := flag.String("scan-threshold", "", "Confidence threshold for the threshold policy")
	maxScanDuration := flag.String("max-scan-duration", "", "Skip scanning content longer than this (default: 30m)")
	backfillInterval := flag.String("backfill-interval", "", "Reconciliation job interval (default: 5m)")

	reviewToken := flag.String("review-token", "", "Shared secret for review/admin endpoints")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8083"),
		},
		Provider: ProviderConfig{
			URL:               getConfigValue(*providerURL, "PROVIDER_URL", "https://enterprise.audd.io/"),
			APIToken:          getConfigValue(*providerToken, "PROVIDER_API_TOKEN", ""),
			RequestsPerSecond: getFloatConfigValue("", "PROVIDER_RPS", 2.0),
			Burst:             getIntConfigValue("", "PROVIDER_BURST", 3),
		},
		Labeler: LabelerConfig{
			IssuerDID:     getConfigValue(*issuerDID, "LABELER_ISSUER_DID", ""),
			SigningKeyHex: getConfigValue(*signingKey, "LABELER_SIGNING_KEY", ""),
			KeyVersion:    getConfigValue(*keyVersion, "LABELER_KEY_VERSION", "1"),
		},
		Scan: ScanConfig{
			Policy:    getConfigValue(*scanPolicy, "SCAN_POLICY", "presence"),
			Threshold: getIntConfigValue(*scanThreshold, "SCAN_THRESHOLD", 50),
		},
		Review: ReviewConfig{
			AuthToken: getConfigValue(*reviewToken, "REVIEW_AUTH_TOKEN", ""),
		},
		Storage: StorageConfig{
			DataPath:              getConfigValue(*dataPath, "DATA_PATH", ""),
			ArchiveKeepPerSubject: getIntConfigValue("", "ARCHIVE_KEEP_PER_SUBJECT", 10),
		},
	}

	// Parse durations.
	var err error
	if cfg.Provider.Timeout, err = parseDurationValue(*providerTimeout, "PROVIDER_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Scan.MaxDuration, err = parseDurationValue(*maxScanDuration, "MAX_SCAN_DURATION", "30m"); err != nil {
		return nil, err
	}
	if cfg.Scan.BackfillInterval, err = parseDurationValue(*backfillInterval, "BACKFILL_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = parseDurationValue("", "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = parseDurationValue("", "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	// Write timeout defaults to 0: the subscribe stream holds connections open
	// indefinitely and manages its own per-write deadlines.
	if cfg.Server.WriteTimeout, err = parseDurationValue("", "SERVER_WRITE_TIMEOUT", "0s"); err != nil {
		return nil, err
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Scan.Policy != "presence" && c.Scan.Policy != "threshold" {
		return fmt.Errorf("invalid scan policy: %s (must be presence or threshold)", c.Scan.Policy)
	}
	if c.Scan.Threshold < 0 || c.Scan.Threshold > 100 {
		return fmt.Errorf("invalid scan threshold: %d (must be 0-100)", c.Scan.Threshold)
	}

	if c.Storage.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}
	if c.Storage.ArchiveKeepPerSubject < 1 {
		return fmt.Errorf("invalid archive retention: %d (must be >= 1)", c.Storage.ArchiveKeepPerSubject)
	}

	// Provider token, issuer DID, and signing key may be empty in development;
	// the affected subsystems report SigningKeyUnavailable / skip scanning at runtime.

	return nil
}

// LabelerEnabled reports whether label emission is fully configured.
func (c *Config) LabelerEnabled() bool {
	return c.Labeler.IssuerDID != "" && c.Labeler.SigningKeyHex != ""
}

// expandDataPath expands ~ and makes the path absolute.
// Defaults to ~/chorus-moderation/data when unset.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "chorus-moderation", "data")

	expanded, err := expandPath(c.Storage.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Storage.DataPath = expanded
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// parseDurationValue resolves a duration from flag, env var, or default.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	str := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), str, err)
	}
	return d, nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
