package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	once   sync.Once
	mu     sync.Mutex
	v      *viper.Viper
)

// Config represents the engine configuration.
type Config struct {
	AppName  string
	RunMode  string
	Host     string
	Port     int
	Engine   *Engine
	Backends *Backends
	Limiter  *Limiter
	Breaker  *Breaker
	Logger   *Logger
	Data     *Data
	Storage  *Storage
	Observes *Observes
	Viper    *viper.Viper
}

func init() {
	flag.StringVar(&path, "conf", "", "e.g: bin ./config.yaml")
	v = viper.New()
}

// Init initializes and loads the configuration.
func Init() (cfg *Config, err error) {
	once.Do(func() {
		cfg, err = loadConfiguration()
	})
	return cfg, err
}

// GetConfig returns the configuration.
// It does not handle errors internally; instead, it returns the error for the caller to handle.
func GetConfig() (*Config, error) {
	if config == nil {
		var err error
		config, err = Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}
	return config, nil
}

// loadConfiguration loads the configuration from the file and sets it globally.
func loadConfiguration() (*Config, error) {
	flag.Parse()
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	config = cfg
	return cfg, nil
}

// LoadConfig loads the configuration from the file.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath("/etc/upcast")
		v.AddConfigPath("$HOME/.upcast")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return fromViper(v), nil
}

// Default returns a configuration with built-in defaults, used when no config
// file is supplied (tests, embedded use).
func Default() *Config {
	return fromViper(viper.New())
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		AppName:  getStringOrDefault(v, "app_name", "upcast"),
		RunMode:  getStringOrDefault(v, "run_mode", "release"),
		Host:     getStringOrDefault(v, "server.host", "127.0.0.1"),
		Port:     getIntOrDefault(v, "server.port", 8642),
		Engine:   getEngineConfig(v),
		Backends: getBackendsConfig(v),
		Limiter:  getLimiterConfig(v),
		Breaker:  getBreakerConfig(v),
		Logger:   getLoggerConfig(v),
		Data:     getDataConfig(v),
		Storage:  getStorageConfig(v),
		Observes: getObservesConfig(v),
		Viper:    v,
	}
}

// Reload reloads the configuration from the file.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()

	newConfig, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	config = newConfig
	return nil
}

// Watch watches the configuration file and reloads it when it changes.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			fmt.Printf("Error reloading config: %v\n", err)
			return
		}
		callback(config)
	})
}
