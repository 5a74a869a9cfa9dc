// Package config loads the schemaver TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tordrt/schemaver/internal/errs"
)

// EnvDatabaseURL is read when neither the file nor a flag names a database.
const EnvDatabaseURL = "SCHEMAVER_DATABASE_URL"

// DefaultMigrationsDir is used when migrations_dir is not set.
const DefaultMigrationsDir = "migrations"

// Config holds the settings of one schemaver project.
type Config struct {
	DatabaseURL   string `toml:"database_url"`
	MigrationsDir string `toml:"migrations_dir"`
	Schema        string `toml:"schema"`
	Lock          bool   `toml:"lock"`
	LockKey       string `toml:"lock_key"`

	// configDir is the directory containing the TOML file, used to resolve
	// migrations_dir.
	configDir string
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		MigrationsDir: DefaultMigrationsDir,
		Lock:          true,
		LockKey:       "schemaver",
	}
}

// Load reads a TOML config file and returns a Config with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration.Wrap(err, "read config")
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errs.Configuration.Wrap(err, "parse config %s", path)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, errs.Configuration.New("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.Schema = strings.TrimSpace(cfg.Schema)
	if strings.TrimSpace(cfg.MigrationsDir) == "" {
		cfg.MigrationsDir = DefaultMigrationsDir
	}
	if strings.TrimSpace(cfg.LockKey) == "" {
		return nil, errs.Configuration.New("lock_key must not be empty")
	}

	return cfg, nil
}

// ApplyEnv fills DatabaseURL from the environment when it is still empty.
func (c *Config) ApplyEnv() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	}
}

// Validate checks that the settings needed to reach a database are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errs.Configuration.New("no database: set database_url, --db-url or %s", EnvDatabaseURL)
	}
	return nil
}

// MigrationsPath resolves migrations_dir relative to the config file directory.
func (c *Config) MigrationsPath() string {
	return c.resolvePath(c.MigrationsDir)
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.configDir == "" {
		return p
	}
	return filepath.Join(c.configDir, p)
}
