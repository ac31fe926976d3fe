package config

import (
	"os"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "config"

// envVarPattern matches ${VAR} placeholders inside YAML string values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig loads configuration in three layers: engine defaults, the
// embedded YAML file, and ACCORD_* environment variable overrides. It is
// intended to be called once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	expanded := expandEnvPlaceholders(embeddedConfig)
	if len(expanded) > 0 {
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewProvisioningError(moduleName, "failed to unmarshal embedded config", err, false)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnvPlaceholders substitutes ${VAR} placeholders with environment
// values. Unset variables expand to the empty string.
func expandEnvPlaceholders(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyEnvOverrides applies well-known ACCORD_* environment variables on top
// of the file configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ACCORD_LOG_LEVEL"); v != "" {
		cfg.Accord.System.Logging.Level = v
	}
	if v := os.Getenv("ACCORD_DB_TYPE"); v != "" {
		cfg.Accord.Database.Type = v
	}
	if v := os.Getenv("ACCORD_DB_DATABASE"); v != "" {
		cfg.Accord.Database.Database = v
	}
	if v := os.Getenv("ACCORD_DB_HOST"); v != "" {
		cfg.Accord.Database.Host = v
	}
	if v := os.Getenv("ACCORD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Accord.Database.Port = port
		} else {
			logger.Warnf("Ignoring non-numeric ACCORD_DB_PORT value %q", v)
		}
	}
	if v := os.Getenv("ACCORD_DB_USER"); v != "" {
		cfg.Accord.Database.User = v
	}
	if v := os.Getenv("ACCORD_DB_PASSWORD"); v != "" {
		cfg.Accord.Database.Password = v
	}
	if v := os.Getenv("ACCORD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Accord.Provisioning.Workers = n
		} else {
			logger.Warnf("Ignoring invalid ACCORD_WORKERS value %q", v)
		}
	}
}

// validate rejects configurations the engine cannot run with.
func validate(cfg *Config) error {
	p := cfg.Accord.Provisioning
	if p.Workers < 1 {
		return exception.NewConfigurationError(moduleName, "provisioning.workers must be at least 1")
	}
	if p.MaxAttempts < 1 {
		return exception.NewConfigurationError(moduleName, "provisioning.max_attempts must be at least 1")
	}
	if p.Retry.Factor < 1.0 {
		return exception.NewConfigurationError(moduleName, "provisioning.retry.factor must be at least 1.0")
	}
	switch cfg.Accord.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return exception.NewConfigurationError(moduleName, "database.type must be sqlite, postgres or mysql")
	}
	seen := make(map[string]bool, len(cfg.Accord.Sync))
	for _, sc := range cfg.Accord.Sync {
		if sc.Name == "" {
			return exception.NewConfigurationError(moduleName, "sync configurations require a name")
		}
		if seen[sc.Name] {
			return exception.NewConfigurationError(moduleName, "duplicate sync configuration name: "+sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}
