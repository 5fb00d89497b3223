// Package config loads process configuration. Values come from an optional
// YAML file and are then overridden by BIOSTORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables.
//
//	BIOSTORE_CONFIG: path of the YAML file (optional)
//	BIOSTORE_STORAGE_DRIVER: sqlite|postgres (default sqlite)
//	BIOSTORE_SQLITE_PATH: default database file for the CLI
//	BIOSTORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	BIOSTORE_TMP_DIR: directory for temporary databases
//	BIOSTORE_SETTINGS_PATH: YAML settings file
//	BIOSTORE_ASSEMBLY_METHOD / BIOSTORE_ASSEMBLY_COMPRESSION: strategies for new databases
//	BIOSTORE_ARCHIVE_DRIVER: fs|s3|memory (empty disables archiving)
//	BIOSTORE_ARCHIVE_FS_ROOT: archive directory when driver=fs
//	BIOSTORE_ARCHIVE_S3_BUCKET / _REGION / _ENDPOINT / _PREFIX / _PATH_STYLE
//	BIOSTORE_LOG_LEVEL: debug|info|warn|error
const (
	EnvConfig              = "BIOSTORE_CONFIG"
	EnvStorageDriver       = "BIOSTORE_STORAGE_DRIVER"
	EnvSQLitePath          = "BIOSTORE_SQLITE_PATH"
	EnvPostgresDSN         = "BIOSTORE_POSTGRES_DSN"
	EnvTmpDir              = "BIOSTORE_TMP_DIR"
	EnvSettingsPath        = "BIOSTORE_SETTINGS_PATH"
	EnvAssemblyMethod      = "BIOSTORE_ASSEMBLY_METHOD"
	EnvAssemblyCompression = "BIOSTORE_ASSEMBLY_COMPRESSION"
	EnvArchiveDriver       = "BIOSTORE_ARCHIVE_DRIVER"
	EnvArchiveFSRoot       = "BIOSTORE_ARCHIVE_FS_ROOT"
	EnvArchiveS3Bucket     = "BIOSTORE_ARCHIVE_S3_BUCKET"
	EnvArchiveS3Region     = "BIOSTORE_ARCHIVE_S3_REGION"
	EnvArchiveS3Endpoint   = "BIOSTORE_ARCHIVE_S3_ENDPOINT"
	EnvArchiveS3Prefix     = "BIOSTORE_ARCHIVE_S3_PREFIX"
	EnvArchiveS3PathStyle  = "BIOSTORE_ARCHIVE_S3_PATH_STYLE"
	EnvLogLevel            = "BIOSTORE_LOG_LEVEL"
)

// Config is the resolved process configuration.
type Config struct {
	StorageDriver string   `yaml:"storage_driver"`
	SQLitePath    string   `yaml:"sqlite_path"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	TmpDir        string   `yaml:"tmp_dir"`
	SettingsPath  string   `yaml:"settings_path"`
	LogLevel      string   `yaml:"log_level"`
	Assembly      Assembly `yaml:"assembly"`
	Archive       Archive  `yaml:"archive"`
}

// Assembly holds the read storage strategies requested for new databases.
type Assembly struct {
	Method      string `yaml:"method,omitempty"`
	Compression string `yaml:"compression,omitempty"`
}

// Archive selects where temporary databases are archived.
type Archive struct {
	Driver string   `yaml:"driver,omitempty"`
	FSRoot string   `yaml:"fs_root,omitempty"`
	S3     S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the S3 archive store.
type S3Config struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		StorageDriver: "sqlite",
		SQLitePath:    "biostore.biodb",
		TmpDir:        filepath.Join(os.TempDir(), "biostore"),
		SettingsPath:  "biostore-settings.yaml",
		LogLevel:      "info",
	}
}

// Load builds the configuration from the YAML file at path (skipped when
// empty) and the environment read through getenv. A nil getenv uses os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if path == "" {
		path = getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	overlay(&cfg.StorageDriver, getenv(EnvStorageDriver))
	overlay(&cfg.SQLitePath, getenv(EnvSQLitePath))
	overlay(&cfg.PostgresDSN, getenv(EnvPostgresDSN))
	overlay(&cfg.TmpDir, getenv(EnvTmpDir))
	overlay(&cfg.SettingsPath, getenv(EnvSettingsPath))
	overlay(&cfg.LogLevel, getenv(EnvLogLevel))
	overlay(&cfg.Assembly.Method, getenv(EnvAssemblyMethod))
	overlay(&cfg.Assembly.Compression, getenv(EnvAssemblyCompression))
	overlay(&cfg.Archive.Driver, getenv(EnvArchiveDriver))
	overlay(&cfg.Archive.FSRoot, getenv(EnvArchiveFSRoot))
	overlay(&cfg.Archive.S3.Bucket, getenv(EnvArchiveS3Bucket))
	overlay(&cfg.Archive.S3.Region, getenv(EnvArchiveS3Region))
	overlay(&cfg.Archive.S3.Endpoint, getenv(EnvArchiveS3Endpoint))
	overlay(&cfg.Archive.S3.Prefix, getenv(EnvArchiveS3Prefix))
	if v := getenv(EnvArchiveS3PathStyle); v != "" {
		cfg.Archive.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks enumerated fields.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.Archive.Driver {
	case "", "fs", "s3", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.Archive.Driver))
	}
	if c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "" {
		errs = append(errs, fmt.Errorf("%s required for s3 archive driver", EnvArchiveS3Bucket))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", name, err)
	}
	return l, nil
}
