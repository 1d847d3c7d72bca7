package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPageSize         = 4096
	DefaultCacheCapacity    = 50
	DefaultLockPollInterval = 100 * time.Millisecond
)

// Config is fixed when the database is opened.
type Config struct {
	// PageSize is the number of bytes per page, header included.
	PageSize int `yaml:"page_size"`
	// CacheCapacity is the maximum number of resident pages.
	CacheCapacity int `yaml:"cache_capacity"`
	// LockPollInterval bounds how long a blocked lock request sleeps before
	// re-checking its grant and running deadlock detection.
	LockPollInterval time.Duration `yaml:"lock_poll_interval"`
	// DirectIO opens heap files with O_DIRECT. PageSize must then be a
	// multiple of the device block size.
	DirectIO bool   `yaml:"direct_io"`
	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		PageSize:         DefaultPageSize,
		CacheCapacity:    DefaultCacheCapacity,
		LockPollInterval: DefaultLockPollInterval,
		LogLevel:         "info",
	}
}

func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page_size must be positive, got %d", ErrInvalidConfig, c.PageSize)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache_capacity must be positive, got %d", ErrInvalidConfig, c.CacheCapacity)
	}
	if c.LockPollInterval <= 0 {
		return fmt.Errorf("%w: lock_poll_interval must be positive, got %s", ErrInvalidConfig, c.LockPollInterval)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig. Missing keys keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}
