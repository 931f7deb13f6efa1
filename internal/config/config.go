// Package config loads the TTS engine's configuration surface (spec.md
// §6) with github.com/spf13/viper, the way CWBudde-go-pocket-tts's own
// internal/config loads its TTS config: typed defaults set on a
// *viper.Viper, an optional config file, then environment variables
// layered on top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full engine configuration surface (spec.md §6).
type Config struct {
	DefaultProvider   string   `mapstructure:"default_provider"`
	FallbackProviders []string `mapstructure:"fallback_providers"`
	LogLevel          string   `mapstructure:"log_level"`

	Cache      CacheConfig      `mapstructure:"cache"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Dialog     DialogConfig     `mapstructure:"dialog"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	Carrier    CarrierConfig    `mapstructure:"carrier"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type CacheConfig struct {
	Memory     MemoryCacheConfig     `mapstructure:"memory"`
	KV         KVCacheConfig         `mapstructure:"kv"`
	Filesystem FilesystemCacheConfig `mapstructure:"filesystem"`
}

type MemoryCacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	TTLSeconds int `mapstructure:"ttl_s"`
}

type KVCacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	TTLSeconds int    `mapstructure:"ttl_s"`
	Prefix     string `mapstructure:"prefix"`
}

type FilesystemCacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
	TTLDays   int    `mapstructure:"ttl_days"`
}

type PoolConfig struct {
	Min              int     `mapstructure:"min"`
	Max              int     `mapstructure:"max"`
	TTLSeconds       int     `mapstructure:"ttl_s"`
	WarmUp           int     `mapstructure:"warm_up"`
	CoolDownSeconds  int     `mapstructure:"cool_down_s"`
	ScalingThreshold float64 `mapstructure:"scaling_threshold"`
}

type FallbackConfig struct {
	MaxFailures             int `mapstructure:"max_failures"`
	HealthCheckIntervalSec  int `mapstructure:"health_check_interval_s"`
	RecoveryBackoffBaseSec  int `mapstructure:"recovery_backoff_base_s"`
}

type DialogConfig struct {
	MinFragmentSize       int `mapstructure:"min_fragment_size"`
	InitialFragmentLength int `mapstructure:"initial_fragment_length"`
	InterSentencePauseMs  int `mapstructure:"inter_sentence_pause_ms"`
	EndOfTurnPauseMs      int `mapstructure:"end_of_turn_pause_ms"`
}

type StreamingConfig struct {
	ChunkMs               int     `mapstructure:"chunk_ms"`
	MaxConcurrentSessions int     `mapstructure:"max_concurrent_sessions"`
	SessionTimeoutSec     int     `mapstructure:"session_timeout_s"`
	RetryAttempts         int     `mapstructure:"retry_attempts"`
	RetryBackoffFactor    float64 `mapstructure:"retry_backoff_factor"`
}

type PredictionConfig struct {
	Depth   int  `mapstructure:"depth"`
	Workers int  `mapstructure:"workers"`
	Enabled bool `mapstructure:"enabled"`
}

type CarrierConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APIBaseURL string `mapstructure:"api_base_url"`
}

type MetricsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Default returns the configuration surface's documented defaults
// (spec.md §6), minus default_provider which the caller must supply.
func Default() Config {
	return Config{
		FallbackProviders: nil,
		LogLevel:          "info",
		Cache: CacheConfig{
			Memory: MemoryCacheConfig{MaxEntries: 100, TTLSeconds: 3600},
			KV:     KVCacheConfig{Enabled: false, TTLSeconds: 86400, Prefix: "tts:"},
			Filesystem: FilesystemCacheConfig{
				Enabled:  true,
				Dir:      "cache/tts",
				MaxBytes: 1 << 30, // 1 GiB
				TTLDays:  30,
			},
		},
		Pool: PoolConfig{
			Min: 1, Max: 5, TTLSeconds: 3600, WarmUp: 1,
			CoolDownSeconds: 5, ScalingThreshold: 0.7,
		},
		Fallback: FallbackConfig{
			MaxFailures:            3,
			HealthCheckIntervalSec: 300,
			RecoveryBackoffBaseSec: 30,
		},
		Dialog: DialogConfig{
			MinFragmentSize:       5,
			InitialFragmentLength: 15,
			InterSentencePauseMs:  300,
			EndOfTurnPauseMs:      800,
		},
		Streaming: StreamingConfig{
			ChunkMs:               20,
			MaxConcurrentSessions: 50,
			SessionTimeoutSec:     300,
			RetryAttempts:         3,
			RetryBackoffFactor:    2.0,
		},
		Prediction: PredictionConfig{Depth: 2, Workers: 2, Enabled: true},
		Carrier:    CarrierConfig{APIBaseURL: "https://api.telnyx.com/v2"},
		Metrics:    MetricsConfig{Dir: "logs/call_metrics"},
	}
}

// Options controls Load's source selection.
type Options struct {
	// ConfigFile, if set, is read explicitly; otherwise Load looks for
	// ./tts.{yaml,json,toml} and proceeds without one if absent.
	ConfigFile string
	// EnvPrefix namespaces environment variable lookups, e.g.
	// "TTS_CACHE_MEMORY_MAX_ENTRIES" for EnvPrefix "TTS".
	EnvPrefix string
	// LoadDotEnv, when true, loads a .env file into the process
	// environment before binding (the teacher's main.go does this
	// unconditionally via godotenv.Load).
	LoadDotEnv bool
}

// Load builds a Config from defaults, an optional config file, and
// environment variables, in that order of increasing precedence.
func Load(opts Options) (Config, error) {
	if opts.LoadDotEnv {
		if err := godotenv.Load(); err != nil {
			// Absence of a .env file is not an error (spec.md ambient stack);
			// the teacher's main.go logs and continues the same way.
		}
	}

	v := viper.New()
	setDefaults(v, Default())

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "TTS"
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("tts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("default_provider", c.DefaultProvider)
	v.SetDefault("fallback_providers", c.FallbackProviders)
	v.SetDefault("log_level", c.LogLevel)

	v.SetDefault("cache.memory.max_entries", c.Cache.Memory.MaxEntries)
	v.SetDefault("cache.memory.ttl_s", c.Cache.Memory.TTLSeconds)
	v.SetDefault("cache.kv.enabled", c.Cache.KV.Enabled)
	v.SetDefault("cache.kv.addr", c.Cache.KV.Addr)
	v.SetDefault("cache.kv.ttl_s", c.Cache.KV.TTLSeconds)
	v.SetDefault("cache.kv.prefix", c.Cache.KV.Prefix)
	v.SetDefault("cache.filesystem.enabled", c.Cache.Filesystem.Enabled)
	v.SetDefault("cache.filesystem.dir", c.Cache.Filesystem.Dir)
	v.SetDefault("cache.filesystem.max_bytes", c.Cache.Filesystem.MaxBytes)
	v.SetDefault("cache.filesystem.ttl_days", c.Cache.Filesystem.TTLDays)

	v.SetDefault("pool.min", c.Pool.Min)
	v.SetDefault("pool.max", c.Pool.Max)
	v.SetDefault("pool.ttl_s", c.Pool.TTLSeconds)
	v.SetDefault("pool.warm_up", c.Pool.WarmUp)
	v.SetDefault("pool.cool_down_s", c.Pool.CoolDownSeconds)
	v.SetDefault("pool.scaling_threshold", c.Pool.ScalingThreshold)

	v.SetDefault("fallback.max_failures", c.Fallback.MaxFailures)
	v.SetDefault("fallback.health_check_interval_s", c.Fallback.HealthCheckIntervalSec)
	v.SetDefault("fallback.recovery_backoff_base_s", c.Fallback.RecoveryBackoffBaseSec)

	v.SetDefault("dialog.min_fragment_size", c.Dialog.MinFragmentSize)
	v.SetDefault("dialog.initial_fragment_length", c.Dialog.InitialFragmentLength)
	v.SetDefault("dialog.inter_sentence_pause_ms", c.Dialog.InterSentencePauseMs)
	v.SetDefault("dialog.end_of_turn_pause_ms", c.Dialog.EndOfTurnPauseMs)

	v.SetDefault("streaming.chunk_ms", c.Streaming.ChunkMs)
	v.SetDefault("streaming.max_concurrent_sessions", c.Streaming.MaxConcurrentSessions)
	v.SetDefault("streaming.session_timeout_s", c.Streaming.SessionTimeoutSec)
	v.SetDefault("streaming.retry_attempts", c.Streaming.RetryAttempts)
	v.SetDefault("streaming.retry_backoff_factor", c.Streaming.RetryBackoffFactor)

	v.SetDefault("prediction.depth", c.Prediction.Depth)
	v.SetDefault("prediction.workers", c.Prediction.Workers)
	v.SetDefault("prediction.enabled", c.Prediction.Enabled)

	v.SetDefault("carrier.api_key", c.Carrier.APIKey)
	v.SetDefault("carrier.api_base_url", c.Carrier.APIBaseURL)

	v.SetDefault("metrics.dir", c.Metrics.Dir)
}

// HealthCheckInterval converts the configured seconds field to a
// time.Duration for fallback.Config.
func (c FallbackConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSec) * time.Second
}

// RecoveryBackoffBase converts the configured seconds field to a
// time.Duration for fallback.Config.
func (c FallbackConfig) RecoveryBackoffBase() time.Duration {
	return time.Duration(c.RecoveryBackoffBaseSec) * time.Second
}

// TTL converts the configured seconds field to a time.Duration for
// cache.NewMemory.
func (c MemoryCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TTL converts the configured seconds field to a time.Duration for
// cache.NewRedisKV.
func (c KVCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TTL converts the configured day count to a time.Duration for
// cache.NewFilesystem.
func (c FilesystemCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// TTL converts the configured seconds field to a time.Duration for
// pool.Config.
func (c PoolConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// CoolDown converts the configured seconds field to a time.Duration for
// pool.Config.
func (c PoolConfig) CoolDown() time.Duration {
	return time.Duration(c.CoolDownSeconds) * time.Second
}

// SessionTimeout converts the configured seconds field to a
// time.Duration for carrier.Config.
func (c StreamingConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSec) * time.Second
}
