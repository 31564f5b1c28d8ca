// Package config loads the service configuration from yaml, a .env file and
// DIAPREDICT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"diapredict/logger"
)

const envPrefix = "DIAPREDICT_"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	} `yaml:"http"`
	Log      logger.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Session struct {
		Capacity int           `yaml:"capacity"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"session"`
	Model struct {
		// DefaultPath is served to sessions that have not uploaded a model.
		DefaultPath string `yaml:"default_path"`
		Watch       bool   `yaml:"watch"`
	} `yaml:"model"`
	Batch struct {
		MaxRows       int  `yaml:"max_rows"`
		StrictColumns bool `yaml:"strict_columns"`
	} `yaml:"batch"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.MaxUploadBytes = 10 << 20
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 30
	cfg.Database.Path = "data/diapredict.db"
	cfg.Session.Capacity = 1024
	cfg.Session.TTL = 2 * time.Hour
	cfg.Batch.MaxRows = 100000
	return cfg
}

// Load reads path on top of Default. A missing file is not an error; the
// defaults and environment still apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
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
	if v, ok := os.LookupEnv(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Http.Port = port
	}
	if v, ok := os.LookupEnv(envPrefix + "DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_FILE"); ok {
		c.Log.File = v
	}
	if v, ok := os.LookupEnv(envPrefix + "MODEL_PATH"); ok {
		c.Model.DefaultPath = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Http.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if c.Session.Capacity <= 0 {
		return errors.New("session.capacity must be positive")
	}
	if c.Session.TTL < 0 {
		return errors.New("session.ttl must not be negative")
	}
	if c.Batch.MaxRows < 0 {
		return errors.New("batch.max_rows must not be negative")
	}
	if c.Model.Watch && c.Model.DefaultPath == "" {
		return errors.New("model.watch requires model.default_path")
	}
	return nil
}
