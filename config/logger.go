package config

import (
	"github.com/spf13/viper"
)

// Logger logger config struct
type Logger struct {
	Level      int
	Format     string
	Output     string
	OutputFile string
}

func getLoggerConfig(v *viper.Viper) *Logger {
	return &Logger{
		Level:      getIntOrDefault(v, "logger.level", 4), // logrus.InfoLevel
		Format:     getStringOrDefault(v, "logger.format", "json"),
		Output:     getStringOrDefault(v, "logger.output", "stdout"),
		OutputFile: v.GetString("logger.output_file"),
	}
}
