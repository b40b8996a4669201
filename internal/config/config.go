package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ComfyUI ComfyUIConfig `yaml:"comfyui"`
	Relay   RelayConfig   `yaml:"relay"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host          string        `yaml:"host" env:"HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	PublicBaseURL string        `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	CORSOrigins   []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type ComfyUIConfig struct {
	Host              string        `yaml:"host" env:"COMFYUI_HOST"`
	Port              int           `yaml:"port" env:"COMFYUI_PORT"`
	Timeout           time.Duration `yaml:"timeout" env:"COMFYUI_TIMEOUT"`
	ImageCacheEntries int           `yaml:"image_cache_entries" env:"COMFYUI_IMAGE_CACHE_ENTRIES"`
	ImageCacheBytes   int64         `yaml:"image_cache_bytes" env:"COMFYUI_IMAGE_CACHE_BYTES"`
	ImageCacheTTL     time.Duration `yaml:"image_cache_ttl" env:"COMFYUI_IMAGE_CACHE_TTL"`
}

type RelayConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RELAY_RECONNECT_DELAY"`
	BusCapacity    int           `yaml:"bus_capacity" env:"RELAY_BUS_CAPACITY"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB"`
	JournalSize int64         `yaml:"journal_size" env:"REDIS_JOURNAL_SIZE"`
	JournalTTL  time.Duration `yaml:"journal_ttl" env:"REDIS_JOURNAL_TTL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			ReadTimeout: 30 * time.Second,
			CORSOrigins: []string{"http://localhost:3001", "http://127.0.0.1:3001"},
		},
		ComfyUI: ComfyUIConfig{
			Host:              "127.0.0.1",
			Port:              8188,
			Timeout:           300 * time.Second,
			ImageCacheEntries: 64,
			ImageCacheBytes:   256 << 20,
			ImageCacheTTL:     10 * time.Minute,
		},
		Relay: RelayConfig{
			ReconnectDelay: 5 * time.Second,
			BusCapacity:    100,
		},
		Redis: RedisConfig{
			JournalSize: 200,
			JournalTTL:  time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), a .env file (if present) and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env only fills variables that are not already set
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")

	origins := make([]string, 0, len(c.Server.CORSOrigins))
	for _, o := range c.Server.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.Server.CORSOrigins = origins
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.ComfyUI.Port <= 0 || c.ComfyUI.Port > 65535 {
		return fmt.Errorf("comfyui.port out of range: %d", c.ComfyUI.Port)
	}
	if c.Relay.ReconnectDelay <= 0 {
		return fmt.Errorf("relay.reconnect_delay must be positive")
	}
	if c.Relay.BusCapacity <= 0 {
		return fmt.Errorf("relay.bus_capacity must be positive")
	}
	return nil
}

// ServerAddr is the listen address for the HTTP server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ComfyUIURL is the HTTP base URL of the remote server.
func (c *Config) ComfyUIURL() string {
	return fmt.Sprintf("http://%s:%d", c.ComfyUI.Host, c.ComfyUI.Port)
}

// ComfyUIWebsocketURL is the remote server's event stream endpoint.
func (c *Config) ComfyUIWebsocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.ComfyUI.Host, c.ComfyUI.Port)
}
