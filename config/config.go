package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"neptunebot/internal/adapters/logger" // Import the logger package for LogLevel
	"neptunebot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Exchange
	IsTestnet  bool
	APITimeout time.Duration

	// Accounts
	AccountsPath string
	Accounts     []Account

	// Retry policy for exchange calls
	RetryMaxAttempts int
	RetryMinBackoff  time.Duration
	RetryMaxBackoff  time.Duration

	// Position monitor
	MonitorInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// Account is one configured trading account: a messaging identity, exchange
// credentials and the user's risk parameters. The slice order in
// Config.Accounts is the dispatch and reporting order.
type Account struct {
	Name      string // short display name, used in status lines
	Identity  string // messaging sender identity for command routing
	APIKey    string
	APISecret string
	Profile   domain.RiskProfile
}

// LoadConfig loads configuration from environment variables (.env file) and
// the accounts file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	apiTimeoutSeconds := getEnvAsInt("API_TIMEOUT_SECONDS", 10)
	if apiTimeoutSeconds <= 0 {
		errs = append(errs, "API_TIMEOUT_SECONDS must be positive")
	}
	cfg.APITimeout = time.Duration(apiTimeoutSeconds) * time.Second

	cfg.RetryMaxAttempts, err = getEnvAsIntRequired("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RETRY_MAX_ATTEMPTS: %v", err))
	} else if cfg.RetryMaxAttempts < 1 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be at least 1")
	}

	minBackoffMs := getEnvAsInt("RETRY_MIN_BACKOFF_MS", 500)
	maxBackoffMs := getEnvAsInt("RETRY_MAX_BACKOFF_MS", 8000)
	if minBackoffMs <= 0 || maxBackoffMs < minBackoffMs {
		errs = append(errs, "retry backoff bounds must satisfy 0 < RETRY_MIN_BACKOFF_MS <= RETRY_MAX_BACKOFF_MS")
	}
	cfg.RetryMinBackoff = time.Duration(minBackoffMs) * time.Millisecond
	cfg.RetryMaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond

	monitorSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 30)
	if monitorSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorSeconds) * time.Second

	cfg.DBPath = getEnv("DB_PATH", "./data/neptunebot.db")

	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	cfg.AccountsPath = getEnv("ACCOUNTS_PATH", "./accounts.yaml")
	accounts, err := LoadAccounts(cfg.AccountsPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("failed to load accounts: %v", err))
	}
	cfg.Accounts = accounts

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Accounts file ---

// profileYAML mirrors domain.RiskProfile with optional fields so that a
// user entry only overrides what it sets; everything else falls through to
// the file's "default" block, then to the built-in defaults.
type profileYAML struct {
	MarginPerTrade        *float64    `yaml:"margin_per_trade"`
	Leverage              *int        `yaml:"leverage"`
	MinBalanceRequired    *float64    `yaml:"min_balance_required"`
	TP1Pct                *float64    `yaml:"tp1_percent"`
	TP2Pct                *float64    `yaml:"tp2_percent"`
	TP3Pct                *float64    `yaml:"tp3_percent"`
	SLPct                 *float64    `yaml:"sl_percent"`
	TPDistribution        *[3]float64 `yaml:"tp_distribution"`
	TrailingActivationPct *float64    `yaml:"trailing_activation_percent"`
	TrailingCallbackPct   *float64    `yaml:"trailing_callback_percent"`
}

type accountYAML struct {
	Name        string `yaml:"name"`
	Identity    string `yaml:"identity"`
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	profileYAML `yaml:",inline"`
}

type accountsFileYAML struct {
	Default profileYAML   `yaml:"default"`
	Users   []accountYAML `yaml:"users"`
}

// LoadAccounts reads the accounts file: a "default" risk profile plus an
// ordered user list whose entries override individual fields. The list
// order is preserved; it defines dispatch and reporting order.
func LoadAccounts(path string) ([]Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read accounts file %s: %w", path, err)
	}

	var file accountsFileYAML
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("cannot parse accounts file %s: %w", path, err)
	}
	if len(file.Users) == 0 {
		return nil, fmt.Errorf("accounts file %s configures no users", path)
	}

	accounts := make([]Account, 0, len(file.Users))
	for i, u := range file.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("user entry %d has no name", i)
		}
		if u.APIKey == "" || u.APISecret == "" {
			return nil, fmt.Errorf("user %s is missing api credentials", u.Name)
		}
		identity := u.Identity
		if identity == "" {
			identity = u.Name
		}
		profile := mergeProfile(u.profileYAML, file.Default)
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("user %s has an invalid risk profile: %w", u.Name, err)
		}
		accounts = append(accounts, Account{
			Name:      u.Name,
			Identity:  identity,
			APIKey:    u.APIKey,
			APISecret: u.APISecret,
			Profile:   profile,
		})
	}
	return accounts, nil
}

// mergeProfile resolves each field as user override -> file default ->
// built-in default (the original deployment's values).
func mergeProfile(user, def profileYAML) domain.RiskProfile {
	return domain.RiskProfile{
		MarginPerTrade:        pickFloat(user.MarginPerTrade, def.MarginPerTrade, 5.0),
		Leverage:              pickInt(user.Leverage, def.Leverage, 10),
		MinBalanceRequired:    pickFloat(user.MinBalanceRequired, def.MinBalanceRequired, 50),
		TP1Pct:                pickFloat(user.TP1Pct, def.TP1Pct, 2.0),
		TP2Pct:                pickFloat(user.TP2Pct, def.TP2Pct, 3.5),
		TP3Pct:                pickFloat(user.TP3Pct, def.TP3Pct, 5.0),
		SLPct:                 pickFloat(user.SLPct, def.SLPct, 1.8),
		TPDistribution:        pickDistribution(user.TPDistribution, def.TPDistribution),
		TrailingActivationPct: pickFloat(user.TrailingActivationPct, def.TrailingActivationPct, 2.5),
		TrailingCallbackPct:   pickFloat(user.TrailingCallbackPct, def.TrailingCallbackPct, 1.0),
	}
}

func pickFloat(user, def *float64, fallback float64) float64 {
	if user != nil {
		return *user
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickInt(user, def *int, fallback int) int {
	if user != nil {
		return *user
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickDistribution(user, def *[3]float64) [3]float64 {
	if user != nil {
		return *user
	}
	if def != nil {
		return *def
	}
	return [3]float64{} // zero value: equal thirds
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
