package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all session core tunables.
type Config struct {
	Connection *ConnectionConfig `json:"connection"`
	Reconcile  *ReconcileConfig  `json:"reconcile"`
	Signaling  *SignalingConfig  `json:"signaling"`
	History    *HistoryConfig    `json:"history"`
}

// ConnectionConfig controls socket lifecycle behavior.
type ConnectionConfig struct {
	ConnectTimeout       time.Duration `json:"connect_timeout"`
	WriteTimeout         time.Duration `json:"write_timeout"`
	ReconnectBackoff     time.Duration `json:"reconnect_backoff"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
}

// ReconcileConfig controls optimistic send matching.
type ReconcileConfig struct {
	MatchWindow time.Duration `json:"match_window"`
}

// SignalingConfig controls typing indicator behavior.
type SignalingConfig struct {
	TypingAutoClear time.Duration `json:"typing_auto_clear"`
}

// HistoryConfig controls history loading and the local cache.
type HistoryConfig struct {
	PageSize  int    `json:"page_size"`
	CachePath string `json:"cache_path"`
}

// DefaultConfig returns production defaults. The connect timeout,
// fixed reconnect backoff and typing auto-clear intervals are part of
// the observable behavioral contract, so changing them changes what
// tests assert.
func DefaultConfig() *Config {
	return &Config{
		Connection: &ConnectionConfig{
			ConnectTimeout:       5 * time.Second,
			WriteTimeout:         10 * time.Second,
			ReconnectBackoff:     3 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Reconcile: &ReconcileConfig{
			MatchWindow: 5 * time.Second,
		},
		Signaling: &SignalingConfig{
			TypingAutoClear: 3 * time.Second,
		},
		History: &HistoryConfig{
			PageSize:  50,
			CachePath: "./chatsession.db",
		},
	}
}

// Validate rejects configurations that would break the session core.
func (c *Config) Validate() error {
	if c.Connection == nil {
		return fmt.Errorf("connection configuration is required")
	}
	if c.Connection.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.Connection.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Connection.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect backoff must be positive")
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if c.Reconcile == nil {
		return fmt.Errorf("reconcile configuration is required")
	}
	if c.Reconcile.MatchWindow <= 0 {
		return fmt.Errorf("reconcile match window must be positive")
	}
	if c.Signaling == nil {
		return fmt.Errorf("signaling configuration is required")
	}
	if c.Signaling.TypingAutoClear <= 0 {
		return fmt.Errorf("typing auto-clear interval must be positive")
	}
	if c.History == nil {
		return fmt.Errorf("history configuration is required")
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("history page size must be positive")
	}
	return nil
}

// LoadFromEnv returns defaults overridden by CHATSESSION_* environment
// variables. Unparseable values fall back silently, defaults still work.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("CHATSESSION_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Connection.ConnectTimeout = d
		}
	}
	if v := os.Getenv("CHATSESSION_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Connection.WriteTimeout = d
		}
	}
	if v := os.Getenv("CHATSESSION_RECONNECT_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Connection.ReconnectBackoff = d
		}
	}
	if v := os.Getenv("CHATSESSION_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Connection.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("CHATSESSION_RECONCILE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Reconcile.MatchWindow = d
		}
	}
	if v := os.Getenv("CHATSESSION_TYPING_AUTO_CLEAR"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Signaling.TypingAutoClear = d
		}
	}
	if v := os.Getenv("CHATSESSION_HISTORY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.History.PageSize = n
		}
	}
	if v := os.Getenv("CHATSESSION_CACHE_PATH"); v != "" {
		config.History.CachePath = v
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing; durations are strings so
// config files can say "5s" instead of nanosecond counts.
type ConfigFile struct {
	Connection *ConnectionConfigFile `json:"connection"`
	Reconcile  *ReconcileConfigFile  `json:"reconcile"`
	Signaling  *SignalingConfigFile  `json:"signaling"`
	History    *HistoryConfigFile    `json:"history"`
}

type ConnectionConfigFile struct {
	ConnectTimeout       string `json:"connect_timeout"`
	WriteTimeout         string `json:"write_timeout"`
	ReconnectBackoff     string `json:"reconnect_backoff"`
	MaxReconnectAttempts *int   `json:"max_reconnect_attempts"`
}

type ReconcileConfigFile struct {
	MatchWindow string `json:"match_window"`
}

type SignalingConfigFile struct {
	TypingAutoClear string `json:"typing_auto_clear"`
}

type HistoryConfigFile struct {
	PageSize  *int   `json:"page_size"`
	CachePath string `json:"cache_path"`
}

// LoadFromFile reads a JSON configuration file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Connection != nil {
		if file.Connection.ConnectTimeout != "" {
			if d, err := time.ParseDuration(file.Connection.ConnectTimeout); err == nil {
				config.Connection.ConnectTimeout = d
			}
		}
		if file.Connection.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.Connection.WriteTimeout); err == nil {
				config.Connection.WriteTimeout = d
			}
		}
		if file.Connection.ReconnectBackoff != "" {
			if d, err := time.ParseDuration(file.Connection.ReconnectBackoff); err == nil {
				config.Connection.ReconnectBackoff = d
			}
		}
		if file.Connection.MaxReconnectAttempts != nil {
			config.Connection.MaxReconnectAttempts = *file.Connection.MaxReconnectAttempts
		}
	}

	if file.Reconcile != nil && file.Reconcile.MatchWindow != "" {
		if d, err := time.ParseDuration(file.Reconcile.MatchWindow); err == nil {
			config.Reconcile.MatchWindow = d
		}
	}

	if file.Signaling != nil && file.Signaling.TypingAutoClear != "" {
		if d, err := time.ParseDuration(file.Signaling.TypingAutoClear); err == nil {
			config.Signaling.TypingAutoClear = d
		}
	}

	if file.History != nil {
		if file.History.PageSize != nil {
			config.History.PageSize = *file.History.PageSize
		}
		if file.History.CachePath != "" {
			config.History.CachePath = file.History.CachePath
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment
// > defaults. File errors are ignored so environment/defaults still work.
func LoadConfigWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}

	return config
}
