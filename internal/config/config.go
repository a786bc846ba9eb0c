package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// IdleTimeout closes a chat session with no inbound activity.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// SendBuffer is the per-connection outbound message buffer; a session
	// that falls this far behind is dropped.
	SendBuffer int `mapstructure:"send_buffer" yaml:"send_buffer"`
	// HistoryPageLimit caps a single history fetch.
	HistoryPageLimit int `mapstructure:"history_page_limit" yaml:"history_page_limit"`

	// RedisAddr enables the Redis presence tracker when non-empty.
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "concierge.db",
		LogLevel:          "info",
		JWTSecret:         "change-me",
		JWTIssuer:         "concierge-server",
		JWTAudience:       "concierge-clients",
		JWTTTL:            24 * time.Hour,
		IdleTimeout:       5 * time.Minute,
		SendBuffer:        32,
		HistoryPageLimit:  100,
		RedisAddr:         "",
		PresenceTTL:       90 * time.Second,
	}
}
