// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like FORM_SERVICE_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, e.g. config.production.yaml
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile looks for a .env in the working directory and project root so
// the engine can run from the repo root, cmd/, or a test package.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig falls back to well-known env vars for secrets that are
// commonly not present in the YAML at all.
func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.FormService.APIKey == "" {
		if val := os.Getenv("FORM_SERVICE_API_KEY"); val != "" {
			cfg.APIs.FormService.APIKey = val
		}
	}
	if cfg.APIs.Analyzer.APIKey == "" {
		if val := os.Getenv("ANALYZER_API_KEY"); val != "" {
			cfg.APIs.Analyzer.APIKey = val
		}
	}
	if cfg.APIs.ArtifactGenerator.APIKey == "" {
		if val := os.Getenv("ARTIFACT_API_KEY"); val != "" {
			cfg.APIs.ArtifactGenerator.APIKey = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	// Polling defaults: 30s interval in the reference behavior.
	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = 30000
	}
	if cfg.Polling.MaxConcurrentForms == 0 {
		cfg.Polling.MaxConcurrentForms = 4
	}
	if cfg.Polling.GuardTTL == 0 {
		cfg.Polling.GuardTTL = 600000
	}
	if cfg.Polling.RetryBaseDelay == 0 {
		cfg.Polling.RetryBaseDelay = 500
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.AnalysisIndex == "" {
		cfg.Database.Elasticsearch.AnalysisIndex = "qualification-analyses"
	}

	// API timeout defaults
	if cfg.APIs.FormService.Timeout == 0 {
		cfg.APIs.FormService.Timeout = 15000
	}
	if cfg.APIs.Analyzer.Timeout == 0 {
		cfg.APIs.Analyzer.Timeout = 60000
	}
	if cfg.APIs.ArtifactGenerator.Timeout == 0 {
		cfg.APIs.ArtifactGenerator.Timeout = 30000
	}
	if cfg.Notifications.Timeout == 0 {
		cfg.Notifications.Timeout = 10000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Ops.Address == "" {
		cfg.Ops.Address = ":8080"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.APIs.FormService.BaseURL == "" {
		return fmt.Errorf("apis.form_service.base_url is required")
	}

	if len(cfg.Forms) == 0 {
		return fmt.Errorf("at least one tracked form is required")
	}
	seen := map[string]bool{}
	for i, f := range cfg.Forms {
		if f.ID == "" {
			return fmt.Errorf("forms[%d].id is required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("forms[%d].id %q is duplicated", i, f.ID)
		}
		seen[f.ID] = true
		if f.ClientType != "buyer" && f.ClientType != "seller" {
			return fmt.Errorf("forms[%d].client_type must be buyer or seller", i)
		}
		if cfg.Integrations.AWS.SES.Enabled && f.AgentEmail == "" {
			return fmt.Errorf("forms[%d].agent_email is required when SES is enabled", i)
		}
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
