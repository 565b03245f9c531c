package observes

import (
	"github.com/getsentry/sentry-go"

	"github.com/upcast/upcast/config"
)

// InitSentry registers the sentry client. A missing endpoint skips
// initialization and is not an error.
func InitSentry(c *config.Sentry, appName string) error {
	if c == nil || c.Endpoint == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              c.Endpoint,
		AttachStacktrace: true,
		TracesSampleRate: c.SampleRate,
		ServerName:       appName,
		Release:          c.Release,
		Environment:      c.Environment,
	})
}
