package config

import (
	"time"

	"github.com/spf13/viper"
)

// Engine holds job execution defaults.
type Engine struct {
	ConcurrencyLimit int           // default per-job account processor bound
	MaxConcurrent    int           // engine-wide account processor cap across jobs
	Distribution     string        // default distribution mode: partition | round
	MaxAttempts      int           // retry attempts per asset
	BaseDelay        time.Duration // first retry delay
	MaxDelay         time.Duration // retry delay cap
	LockTTL          time.Duration // task lock time-to-live
	LockRefresh      time.Duration // holder refresh interval
	LockReap         time.Duration // janitor sweep interval
}

func getEngineConfig(v *viper.Viper) *Engine {
	return &Engine{
		ConcurrencyLimit: getIntOrDefault(v, "engine.concurrency_limit", 5),
		MaxConcurrent:    getIntOrDefault(v, "engine.max_concurrent", 20),
		Distribution:     getStringOrDefault(v, "engine.distribution", "partition"),
		MaxAttempts:      getIntOrDefault(v, "engine.max_attempts", 3),
		BaseDelay:        getDurationOrDefault(v, "engine.base_delay", 2*time.Second),
		MaxDelay:         getDurationOrDefault(v, "engine.max_delay", time.Minute),
		LockTTL:          getDurationOrDefault(v, "engine.lock_ttl", 2*time.Minute),
		LockRefresh:      getDurationOrDefault(v, "engine.lock_refresh", 30*time.Second),
		LockReap:         getDurationOrDefault(v, "engine.lock_reap", 15*time.Second),
	}
}
