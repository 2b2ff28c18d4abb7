package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DenominationConfig describes the currency ladder the recycler accepts and
// the stock limits used for inventory warnings. Values are in major units.
type DenominationConfig struct {
	Currency    string           `mapstructure:"currency"`
	Notes       []int64          `mapstructure:"notes"`
	Coins       []int64          `mapstructure:"coins"`
	Capacity    map[string]int64 `mapstructure:"capacity"`
	WarnLowPct  float64          `mapstructure:"warnLowPct"`
	WarnHighPct float64          `mapstructure:"warnHighPct"`
}

func DefaultDenominationConfig() DenominationConfig {
	return DenominationConfig{
		Currency: "THB",
		Notes:    []int64{1000, 500, 100, 50, 20},
		Coins:    []int64{10, 5, 2, 1},
		Capacity: map[string]int64{
			"1000": 100, "500": 100, "100": 100, "50": 100, "20": 100,
			"10": 200, "5": 200, "2": 200, "1": 200,
		},
		WarnLowPct:  0.10,
		WarnHighPct: 0.90,
	}
}

// CapacityFor returns the configured stacker capacity for a face value.
func (c DenominationConfig) CapacityFor(value int64) int64 {
	if c.Capacity == nil {
		return 0
	}
	return c.Capacity[strconv.FormatInt(value, 10)]
}

type DenominationConfigHolder struct {
	current atomic.Value // holds DenominationConfig
}

// NewStaticDenominationConfigHolder wraps a fixed config without file watching.
func NewStaticDenominationConfigHolder(cfg DenominationConfig) *DenominationConfigHolder {
	holder := &DenominationConfigHolder{}
	holder.current.Store(normalizeDenominationConfig(cfg))
	return holder
}

func NewDenominationConfigHolder(log *zap.Logger) (*DenominationConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.denomination")

	v := viper.New()

	v.SetConfigName("cashstation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/cashstation/config")
	v.AddConfigPath("/etc/cashstation")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CASHSTATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDenominationConfig()
	v.SetDefault("denomination.currency", defaults.Currency)
	v.SetDefault("denomination.notes", defaults.Notes)
	v.SetDefault("denomination.coins", defaults.Coins)
	v.SetDefault("denomination.capacity", defaults.Capacity)
	v.SetDefault("denomination.warnLowPct", defaults.WarnLowPct)
	v.SetDefault("denomination.warnHighPct", defaults.WarnHighPct)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg DenominationConfig
	if err := v.UnmarshalKey("denomination", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeDenominationConfig(cfg)
	if err := ValidateDenominationConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DenominationConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DenominationConfig
		if err := v.UnmarshalKey("denomination", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = normalizeDenominationConfig(updated)
		if err := ValidateDenominationConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *DenominationConfigHolder) Get() DenominationConfig {
	return h.current.Load().(DenominationConfig)
}

func normalizeDenominationConfig(cfg DenominationConfig) DenominationConfig {
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	desc := func(values []int64) []int64 {
		out := append([]int64(nil), values...)
		sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
		return out
	}
	cfg.Notes = desc(cfg.Notes)
	cfg.Coins = desc(cfg.Coins)
	return cfg
}

func ValidateDenominationConfig(cfg DenominationConfig) error {
	if cfg.Currency == "" {
		return errors.New("denomination.currency cannot be empty")
	}
	if len(cfg.Notes)+len(cfg.Coins) == 0 {
		return errors.New("denomination ladder cannot be empty")
	}
	seen := map[int64]struct{}{}
	for _, v := range append(append([]int64(nil), cfg.Notes...), cfg.Coins...) {
		if v <= 0 {
			return fmt.Errorf("denomination value %d must be positive", v)
		}
		if _, ok := seen[v]; ok {
			return fmt.Errorf("denomination value %d listed twice", v)
		}
		seen[v] = struct{}{}
	}
	if cfg.WarnLowPct < 0 || cfg.WarnHighPct > 1 || cfg.WarnLowPct > cfg.WarnHighPct {
		return errors.New("denomination warn percentages must satisfy 0 <= low <= high <= 1")
	}
	return nil
}
