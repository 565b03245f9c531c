package config

import (
	"github.com/spf13/viper"
)

// Limiter holds token-bucket admission settings per scope class.
type Limiter struct {
	AccountCapacity int     // bucket size per account
	AccountRefill   float64 // tokens per second per account
	RouteCapacity   int     // bucket size per upstream route
	RouteRefill     float64 // tokens per second per upstream route
}

func getLimiterConfig(v *viper.Viper) *Limiter {
	return &Limiter{
		AccountCapacity: getIntOrDefault(v, "limiter.account_capacity", 5),
		AccountRefill:   getFloat64OrDefault(v, "limiter.account_refill", 0.5),
		RouteCapacity:   getIntOrDefault(v, "limiter.route_capacity", 20),
		RouteRefill:     getFloat64OrDefault(v, "limiter.route_refill", 5),
	}
}
