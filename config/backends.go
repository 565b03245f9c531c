package config

import (
	"time"

	"github.com/spf13/viper"
)

// Driver points at one execution driver service.
type Driver struct {
	URL     string
	Timeout time.Duration
}

// Backends holds the driver endpoints per execution kind. An empty URL
// disables that kind.
type Backends struct {
	Browser *Driver
	API     *Driver
}

func getBackendsConfig(v *viper.Viper) *Backends {
	return &Backends{
		Browser: &Driver{
			URL:     getStringOrDefault(v, "backends.browser.url", ""),
			Timeout: getDurationOrDefault(v, "backends.browser.timeout", 5*time.Minute),
		},
		API: &Driver{
			URL:     getStringOrDefault(v, "backends.api.url", ""),
			Timeout: getDurationOrDefault(v, "backends.api.timeout", 2*time.Minute),
		},
	}
}
