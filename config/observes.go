package config

import (
	"time"

	"github.com/spf13/viper"
)

// Sentry config struct
type Sentry struct {
	Endpoint    string
	Environment string
	Release     string
	SampleRate  float64
}

func getSentryConfig(v *viper.Viper) *Sentry {
	return &Sentry{
		Endpoint:    v.GetString("observes.sentry.endpoint"),
		Environment: v.GetString("observes.sentry.environment"),
		Release:     v.GetString("observes.sentry.release"),
		SampleRate:  getFloat64OrDefault(v, "observes.sentry.sample_rate", 1.0),
	}
}

// Tracer config struct for OpenTelemetry
type Tracer struct {
	Endpoint           string // OTLP gRPC endpoint
	ServiceName        string
	ServiceVersion     string
	Environment        string
	SamplingRate       float64
	MaxExportBatchSize int
	BatchTimeout       time.Duration
	ExportTimeout      time.Duration
}

func getTracerConfig(v *viper.Viper) *Tracer {
	return &Tracer{
		Endpoint:           v.GetString("observes.tracer.endpoint"),
		ServiceName:        getStringOrDefault(v, "observes.tracer.service_name", "upcast"),
		ServiceVersion:     v.GetString("observes.tracer.service_version"),
		Environment:        v.GetString("observes.tracer.environment"),
		SamplingRate:       getFloat64OrDefault(v, "observes.tracer.sampling_rate", 1.0),
		MaxExportBatchSize: getIntOrDefault(v, "observes.tracer.max_export_batch_size", 512),
		BatchTimeout:       getDurationOrDefault(v, "observes.tracer.batch_timeout", 5*time.Second),
		ExportTimeout:      getDurationOrDefault(v, "observes.tracer.export_timeout", 30*time.Second),
	}
}

// Observes config struct
type Observes struct {
	Sentry *Sentry
	Tracer *Tracer
}

func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		Sentry: getSentryConfig(v),
		Tracer: getTracerConfig(v),
	}
}
