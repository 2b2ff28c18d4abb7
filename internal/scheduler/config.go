package scheduler

import (
	"time"

	"github.com/smallbiznis/cashstation/internal/config"
)

// Config controls scheduler intervals and per-job deadlines.
type Config struct {
	RunInterval      time.Duration
	EnabledJobs      []string
	PosRetryTimeout  time.Duration
	InventoryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		PosRetryTimeout:  2 * time.Minute,
		InventoryTimeout: 30 * time.Second,
	}
}

// ProvideConfig maps the application config onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.PosRetryTimeout <= 0 {
		c.PosRetryTimeout = defaults.PosRetryTimeout
	}
	if c.InventoryTimeout <= 0 {
		c.InventoryTimeout = defaults.InventoryTimeout
	}
	return c
}
