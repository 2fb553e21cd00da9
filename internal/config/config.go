// Package config handles configuration loading, validation, and persistence
// for the ChatForwarder client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultServerIP   = "127.0.0.1"
	DefaultSendPort   = 26001 // must match cf_listen_port in game
	DefaultListenPort = 26000 // must match cf_server_port in game
	DefaultAPIPort    = 26080
	DefaultAPIBind    = "127.0.0.1"
	DefaultMQTTPort   = 1883
)

// Config is the root configuration structure.
type Config struct {
	mu       sync.RWMutex
	path     string
	firstRun bool

	Network         NetworkConfig   `json:"network"`
	ApplicationData ApplicationData `json:"application_data"`
}

// NetworkConfig describes both UDP paths. It is fixed for the process lifetime.
type NetworkConfig struct {
	ServerIP   string `json:"server_ip"`
	SendPort   int    `json:"send_port"`
	ListenPort int    `json:"listen_port"`

	// ShowTypes is the tag allow-list. Entries are "0x12", "18" or "chat".
	ShowTypes []string `json:"show_types"`

	ReceiveTimeoutMS  int  `json:"receive_timeout_ms"`
	ReceiveBufferSize int  `json:"receive_buffer_size"`
	SendIntervalMS    int  `json:"send_interval_ms"`
	ShutdownGraceMS   int  `json:"shutdown_grace_ms"`
	ExitOnBindFailure bool `json:"exit_on_bind_failure"`
}

// ApplicationData holds the optional sinks and logging.
type ApplicationData struct {
	Logging    LoggingConfig    `json:"logging"`
	MQTT       MQTTConfig       `json:"mqtt"`
	API        APIConfig        `json:"api"`
	Transcript TranscriptConfig `json:"transcript"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`

	// StatsIntervalMin logs the session counters periodically, 0 disables it.
	StatsIntervalMin int `json:"stats_interval_min"`
}

// MQTTConfig holds the MQTT relay settings.
type MQTTConfig struct {
	Enabled      bool   `json:"enabled"`
	BrokerURL    string `json:"broker_url"`
	Port         int    `json:"port"`
	UseTLS       bool   `json:"use_tls"`
	CertFile     string `json:"cert_file"`
	KeyFile      string `json:"key_file"`
	ClientID     string `json:"client_id"`
	TopicPrefix  string `json:"topic_prefix"`
	CommandTopic string `json:"command_topic"`
}

// APIConfig holds the HTTP monitor API settings. The API has no
// authentication, so it binds to loopback unless told otherwise.
type APIConfig struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`

	// UseTLS serves HTTPS. Missing certificate files are generated as a
	// self-signed pair on startup.
	UseTLS   bool   `json:"use_tls"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	// AllowedOrigins enables CORS for the listed origins. Empty sends no
	// CORS headers, so browsers block cross-origin calls.
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	HistorySize    int      `json:"history_size"`
}

// TranscriptConfig holds the SQLite transcript settings.
type TranscriptConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ServerIP:          DefaultServerIP,
			SendPort:          DefaultSendPort,
			ListenPort:        DefaultListenPort,
			ShowTypes:         []string{},
			ReceiveTimeoutMS:  1000,
			ReceiveBufferSize: protocol.MaxDatagramSize,
			SendIntervalMS:    0,
			ShutdownGraceMS:   2000,
		},
		ApplicationData: ApplicationData{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,

				StatsIntervalMin: 15,
			},
			MQTT: MQTTConfig{
				Port:        DefaultMQTTPort,
				TopicPrefix: "chatforwarder",
			},
			API: APIConfig{
				BindAddress:  DefaultAPIBind,
				Port:         DefaultAPIPort,
				CertFile:     filepath.Join("data", "api-cert.pem"),
				KeyFile:      filepath.Join("data", "api-key.pem"),
				RateLimitRPS: 20,
				HistorySize:  200,
			},
			Transcript: TranscriptConfig{
				Path:          filepath.Join("data", "transcript.db"),
				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults when it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.firstRun = true
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// IsFirstRun reports whether Load had to create the config file.
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// RemoteAddr returns "server_ip:send_port".
func (n NetworkConfig) RemoteAddr() string {
	return fmt.Sprintf("%s:%d", n.ServerIP, n.SendPort)
}

// ReceiveTimeout returns the bounded wait of the receive path.
func (n NetworkConfig) ReceiveTimeout() time.Duration {
	return time.Duration(n.ReceiveTimeoutMS) * time.Millisecond
}

// SendInterval returns the minimum delay between two sends, zero when off.
func (n NetworkConfig) SendInterval() time.Duration {
	return time.Duration(n.SendIntervalMS) * time.Millisecond
}

// ShutdownGrace returns how long shutdown waits for the receive path.
func (n NetworkConfig) ShutdownGrace() time.Duration {
	return time.Duration(n.ShutdownGraceMS) * time.Millisecond
}

// Filter returns the tag allow-list. Invalid entries are reported by Validate.
func (n NetworkConfig) Filter() (protocol.TagFilter, error) {
	tags, err := protocol.ParseTags(n.ShowTypes)
	if err != nil {
		return protocol.TagFilter{}, fmt.Errorf("invalid show_types: %w", err)
	}
	return protocol.NewTagFilter(tags), nil
}
