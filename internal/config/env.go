package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variables that override values from config.json.
const (
	EnvConfigDir         = "CF_CONFIG_DIR"
	EnvServerIP          = "CF_SERVER_IP"
	EnvSendPort          = "CF_SEND_PORT"
	EnvListenPort        = "CF_LISTEN_PORT"
	EnvShowTypes         = "CF_SHOW_TYPES"
	EnvLogLevel          = "CF_LOG_LEVEL"
	EnvAPIEnabled        = "CF_API_ENABLED"
	EnvAPIPort           = "CF_API_PORT"
	EnvAPIBind           = "CF_API_BIND"
	EnvMQTTEnabled       = "CF_MQTT_ENABLED"
	EnvMQTTBroker        = "CF_MQTT_BROKER"
	EnvTranscriptEnabled = "CF_TRANSCRIPT_ENABLED"
)

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("environment file loaded")
	return nil
}

// ConfigDir returns the configuration directory, honouring CF_CONFIG_DIR.
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvConfigDir)); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if v, ok := lookup(EnvServerIP); ok {
		cfg.Network.ServerIP = v
	}
	if err := envInt(EnvSendPort, &cfg.Network.SendPort); err != nil {
		return err
	}
	if err := envInt(EnvListenPort, &cfg.Network.ListenPort); err != nil {
		return err
	}
	if v, ok := lookup(EnvShowTypes); ok {
		cfg.Network.ShowTypes = splitList(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.ApplicationData.Logging.Level = v
	}
	if err := envBool(EnvAPIEnabled, &cfg.ApplicationData.API.Enabled); err != nil {
		return err
	}
	if err := envInt(EnvAPIPort, &cfg.ApplicationData.API.Port); err != nil {
		return err
	}
	if v, ok := lookup(EnvAPIBind); ok {
		cfg.ApplicationData.API.BindAddress = v
	}
	if err := envBool(EnvMQTTEnabled, &cfg.ApplicationData.MQTT.Enabled); err != nil {
		return err
	}
	if v, ok := lookup(EnvMQTTBroker); ok {
		cfg.ApplicationData.MQTT.BrokerURL = v
	}
	if err := envBool(EnvTranscriptEnabled, &cfg.ApplicationData.Transcript.Enabled); err != nil {
		return err
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// splitList splits a comma or space separated list.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
