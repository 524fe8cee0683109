// Package config resolves the recognized options (cache.capacity,
// lock.deadlock_policy, lock.acquire_timeout_ms) plus logging
// level/format, layered from flags and RELLY_-prefixed environment
// variables via github.com/spf13/viper. No config file is read.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/johniel/relly-txcache/internal/logging"
)

// DeadlockPolicy mirrors lock.Policy without importing the lock
// package, so config stays a leaf dependency.
type DeadlockPolicy string

const (
	RequesterVictim     DeadlockPolicy = "requester_victim"
	DeterministicVictim DeadlockPolicy = "deterministic_victim"
)

// CacheConfig holds the cache.* options.
type CacheConfig struct {
	Capacity int
}

// LockConfig holds the lock.* options.
type LockConfig struct {
	DeadlockPolicy DeadlockPolicy
	AcquireTimeout time.Duration // 0 = infinite, per lock.acquire_timeout_ms
}

// LogConfig configures the ambient logging bootstrap, required for a
// complete running service.
type LogConfig struct {
	Level      logging.Level
	JSONOutput bool
}

// Config is the fully-resolved configuration for one Store instance.
type Config struct {
	Cache CacheConfig
	Lock  LockConfig
	Log   LogConfig
}

// Default returns deadlock_policy requester_victim, acquire_timeout_ms
// 0 (infinite), and a cache capacity of 1024.
func Default() Config {
	return Config{
		Cache: CacheConfig{Capacity: 1024},
		Lock: LockConfig{
			DeadlockPolicy: RequesterVictim,
			AcquireTimeout: 0,
		},
		Log: LogConfig{Level: logging.InfoLevel, JSONOutput: false},
	}
}

// BindFlags registers the recognized options as flags on cmd and binds
// them into v: flags take precedence over env values resolved by v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.Int("cache-capacity", 1024, "maximum resident entries in the Shared Cache")
	flags.String("lock-deadlock-policy", string(RequesterVictim), "requester_victim or deterministic_victim")
	flags.Int64("lock-acquire-timeout-ms", 0, "max milliseconds to wait for a lock before victimization (0 = infinite)")
	flags.String("log-level", string(logging.InfoLevel), "debug, info, warn, or error")
	flags.Bool("log-json", false, "emit structured JSON logs instead of console output")

	v.BindPFlag("cache.capacity", flags.Lookup("cache-capacity"))
	v.BindPFlag("lock.deadlock_policy", flags.Lookup("lock-deadlock-policy"))
	v.BindPFlag("lock.acquire_timeout_ms", flags.Lookup("lock-acquire-timeout-ms"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.json", flags.Lookup("log-json"))

	v.SetEnvPrefix("RELLY")
	v.AutomaticEnv()
}

// Resolve reads the bound values out of v into a Config, applying
// Default() for anything v has no value for.
func Resolve(v *viper.Viper) Config {
	cfg := Default()

	if v.IsSet("cache.capacity") {
		cfg.Cache.Capacity = v.GetInt("cache.capacity")
	}
	if v.IsSet("lock.deadlock_policy") {
		switch DeadlockPolicy(v.GetString("lock.deadlock_policy")) {
		case DeterministicVictim:
			cfg.Lock.DeadlockPolicy = DeterministicVictim
		default:
			cfg.Lock.DeadlockPolicy = RequesterVictim
		}
	}
	if v.IsSet("lock.acquire_timeout_ms") {
		cfg.Lock.AcquireTimeout = time.Duration(v.GetInt64("lock.acquire_timeout_ms")) * time.Millisecond
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = logging.Level(v.GetString("log.level"))
	}
	if v.IsSet("log.json") {
		cfg.Log.JSONOutput = v.GetBool("log.json")
	}
	return cfg
}
