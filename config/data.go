package config

import (
	"time"

	"github.com/spf13/viper"
)

// Data holds persistence settings.
type Data struct {
	Driver   string // memory | sqlite
	Source   string // sqlite file path
	Redis    *Redis
	CacheTTL time.Duration
}

// Redis connection settings. Empty Addr disables redis-backed
// locks and the status cache.
type Redis struct {
	Addr     string
	Username string
	Password string
	Db       int
}

func getDataConfig(v *viper.Viper) *Data {
	return &Data{
		Driver:   getStringOrDefault(v, "data.driver", "memory"),
		Source:   getStringOrDefault(v, "data.source", "upcast.db"),
		CacheTTL: getDurationOrDefault(v, "data.cache_ttl", 30*time.Second),
		Redis: &Redis{
			Addr:     v.GetString("data.redis.addr"),
			Username: v.GetString("data.redis.username"),
			Password: v.GetString("data.redis.password"),
			Db:       v.GetInt("data.redis.db"),
		},
	}
}
