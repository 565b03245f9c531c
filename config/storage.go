package config

import (
	"github.com/spf13/viper"
)

// Storage asset storage config
type Storage struct {
	Provider string
	Bucket   string
	Endpoint string
}

func getStorageConfig(v *viper.Viper) *Storage {
	return &Storage{
		Provider: getStringOrDefault(v, "storage.provider", "filesystem"),
		Bucket:   getStringOrDefault(v, "storage.bucket", "assets"),
		Endpoint: v.GetString("storage.endpoint"),
	}
}
