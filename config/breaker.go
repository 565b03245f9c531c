package config

import (
	"time"

	"github.com/spf13/viper"
)

// Breaker holds per-backend-scope circuit breaker settings.
type Breaker struct {
	Threshold uint32        // consecutive failures before the circuit opens
	Cooldown  time.Duration // open duration before a half-open probe
}

func getBreakerConfig(v *viper.Viper) *Breaker {
	return &Breaker{
		Threshold: getUint32OrDefault(v, "breaker.threshold", 5),
		Cooldown:  getDurationOrDefault(v, "breaker.cooldown", 30*time.Second),
	}
}
