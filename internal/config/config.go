package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Config is the process configuration, populated from the environment.
type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	// AllowedOrigin restricts websocket upgrades by Origin header.
	// "*" accepts any origin.
	AllowedOrigin string `env:"ALLOWED_ORIGIN,default=*"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogJSON  bool   `env:"LOG_JSON,default=false"`

	// ChatHistoryRetention is how long an emptied room's chat history is kept
	// in case the room is rejoined.
	ChatHistoryRetention time.Duration `env:"CHAT_HISTORY_RETENTION,default=1h"`

	// SendBufferSize is the per-connection outbound event buffer.
	SendBufferSize int `env:"SEND_BUFFER_SIZE,default=256"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}
	if cfg.SendBufferSize <= 0 {
		return Config{}, fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", cfg.SendBufferSize)
	}
	if cfg.ChatHistoryRetention <= 0 {
		return Config{}, fmt.Errorf("CHAT_HISTORY_RETENTION must be positive, got %s", cfg.ChatHistoryRetention)
	}
	return cfg, nil
}

// Addr is the host:port the HTTP server binds.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
