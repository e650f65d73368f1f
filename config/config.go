package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const envPrefix = "RECOVERYCAST_"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	ML       MLConfig       `yaml:"ml"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// RateLimit is requests per second per client address; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	CacheSize int    `yaml:"cache_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MLConfig struct {
	ArtifactDir     string  `yaml:"artifact_dir"`
	DatasetPath     string  `yaml:"dataset_path"`
	DatasetEncoding string  `yaml:"dataset_encoding"`
	ClassifierTrees int     `yaml:"classifier_trees"`
	RegressorTrees  int     `yaml:"regressor_trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	TestRatio       float64 `yaml:"test_ratio"`
	Seed            int64   `yaml:"seed"`
	Workers         int     `yaml:"workers"`
	WatchArtifacts  bool    `yaml:"watch_artifacts"`
	CleanDataset    bool    `yaml:"clean_dataset"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:      8080,
			Timeout:   30 * time.Second,
			RateLimit: 20,
			RateBurst: 40,
		},
		Database: DatabaseConfig{
			Driver:    "sqlite",
			Path:      "data/recoverycast.db",
			CacheSize: 256,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		ML: MLConfig{
			ArtifactDir:     "models",
			DatasetPath:     "data/drug_recovery_dataset.csv",
			DatasetEncoding: "utf-8",
			ClassifierTrees: 200,
			RegressorTrees:  300,
			MinSamplesLeaf:  1,
			TestRatio:       0.2,
			Seed:            42,
		},
	}
}

// Load reads path over the defaults, then applies RECOVERYCAST_* overrides.
// A missing file is not an error; the defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.Database.Driver, "DB_DRIVER")
	envString(&c.Database.Path, "DB_PATH")
	envString(&c.Database.URL, "DB_URL")
	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.File, "LOG_FILE")
	envString(&c.ML.ArtifactDir, "ARTIFACT_DIR")
	envString(&c.ML.DatasetPath, "DATASET_PATH")
	if err := envInt(&c.HTTP.Port, "HTTP_PORT"); err != nil {
		return err
	}
	if err := envInt(&c.ML.ClassifierTrees, "CLASSIFIER_TREES"); err != nil {
		return err
	}
	if err := envInt(&c.ML.RegressorTrees, "REGRESSOR_TREES"); err != nil {
		return err
	}
	if origins := os.Getenv(envPrefix + "ALLOWED_ORIGINS"); origins != "" {
		c.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.AllowedOrigins = append(c.HTTP.AllowedOrigins, o)
			}
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("invalid http.rate_limit %v: must be >= 0", c.HTTP.RateLimit)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got '%s'", c.Database.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be 'json' or 'console', got '%s'", c.Log.Format)
	}
	if c.ML.ArtifactDir == "" {
		return fmt.Errorf("ml.artifact_dir is required")
	}
	if c.ML.ClassifierTrees < 1 || c.ML.RegressorTrees < 1 {
		return fmt.Errorf("ml.classifier_trees and ml.regressor_trees must be >= 1")
	}
	if c.ML.TestRatio <= 0 || c.ML.TestRatio >= 1 {
		return fmt.Errorf("invalid ml.test_ratio %v: must be between 0 and 1", c.ML.TestRatio)
	}
	if c.ML.MaxDepth < 0 || c.ML.MinSamplesLeaf < 1 {
		return fmt.Errorf("ml.max_depth must be >= 0 and ml.min_samples_leaf >= 1")
	}
	return nil
}

func envString(field *string, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*field = val
	}
}

func envInt(field *int, key string) error {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s '%s': %w", envPrefix, key, val, err)
	}
	*field = parsed
	return nil
}
