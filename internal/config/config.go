package config

import (
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/redo"
)

// Config is the configuration of the cranekv tools.
type Config struct {
	LogLevel string `toml:"log-level" json:"log-level"`
	// Strategy is the redo log layout: fixed, variable or tagged.
	Strategy string `toml:"strategy" json:"strategy"`

	Log      LogConfig      `toml:"log" json:"log"`
	Redo     RedoConfig     `toml:"redo" json:"redo"`
	Simulate SimulateConfig `toml:"simulate" json:"simulate"`
}

// LogConfig configures the simulated log service.
type LogConfig struct {
	// Dir keeps the log on disk when set, otherwise it lives in memory.
	Dir           string `toml:"dir" json:"dir"`
	BlockSize     int    `toml:"block-size" json:"block-size"`
	Capacity      int64  `toml:"capacity" json:"capacity"`
	MaxRecordSize int    `toml:"max-record-size" json:"max-record-size"`
}

// RedoConfig configures the redo log layouts.
type RedoConfig struct {
	FixedSlotSize int `toml:"fixed-slot-size" json:"fixed-slot-size"`
}

// SimulateConfig configures the crash simulation workload.
type SimulateConfig struct {
	Transactions int `toml:"transactions" json:"transactions"`
	Keys         int `toml:"keys" json:"keys"`
	MaxValueSize int `toml:"max-value-size" json:"max-value-size"`
	// CrashEvery injects a crash every CrashEvery log IOs on average, 0
	// disables crashes.
	CrashEvery int    `toml:"crash-every" json:"crash-every"`
	FlushBatch int    `toml:"flush-batch" json:"flush-batch"`
	Seed       uint64 `toml:"seed" json:"seed"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Strategy: redo.NameVariable,
		Log: LogConfig{
			BlockSize:     log.DefaultBlockSize,
			Capacity:      log.DefaultCapacity,
			MaxRecordSize: log.DefaultMaxRecordSize,
		},
		Redo: RedoConfig{
			FixedSlotSize: redo.DefaultFixedSlotSize,
		},
		Simulate: SimulateConfig{
			Transactions: 1000,
			Keys:         64,
			MaxValueSize: 300,
			CrashEvery:   97,
			FlushBatch:   8,
			Seed:         1,
		},
	}
}

// Load decodes the toml file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Errorf("config %s contains undefined item: %v", path, undecoded)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components reject.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log-level")
	}
	if !slices.Contains(redo.Names(), c.Strategy) {
		return errors.Errorf("strategy %q must be one of %v", c.Strategy, redo.Names())
	}
	if c.Log.Capacity <= 0 {
		return errors.New("log.capacity must be positive")
	}
	if c.Log.BlockSize <= 0 {
		return errors.New("log.block-size must be positive")
	}
	if c.Log.MaxRecordSize <= 0 {
		return errors.New("log.max-record-size must be positive")
	}
	if c.Redo.FixedSlotSize > redo.MaxFixedSlotSize {
		return errors.Errorf("redo.fixed-slot-size %d exceeds %d, the largest slot the fixed layout can address",
			c.Redo.FixedSlotSize, redo.MaxFixedSlotSize)
	}
	if c.Redo.FixedSlotSize > c.Log.MaxRecordSize {
		return errors.Errorf("redo.fixed-slot-size %d exceeds log.max-record-size %d",
			c.Redo.FixedSlotSize, c.Log.MaxRecordSize)
	}
	if c.Simulate.Transactions < 0 {
		return errors.New("simulate.transactions must not be negative")
	}
	if c.Simulate.Keys <= 0 {
		return errors.New("simulate.keys must be positive")
	}
	if c.Simulate.MaxValueSize < 0 {
		return errors.New("simulate.max-value-size must not be negative")
	}
	if c.Simulate.CrashEvery < 0 || c.Simulate.FlushBatch < 0 {
		return errors.New("simulate.crash-every and simulate.flush-batch must not be negative")
	}
	return nil
}

// NewLogger builds the logger for LogLevel.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log-level")
	}
	zc := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

