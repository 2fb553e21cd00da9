package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvServerIP, "192.168.1.20")
	t.Setenv(EnvSendPort, "27015")
	t.Setenv(EnvListenPort, "27016")
	t.Setenv(EnvShowTypes, "chat, 0x13;sys")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvAPIEnabled, "true")
	t.Setenv(EnvAPIPort, "9000")
	t.Setenv(EnvAPIBind, "0.0.0.0")
	t.Setenv(EnvMQTTEnabled, "1")
	t.Setenv(EnvMQTTBroker, "broker.local")
	t.Setenv(EnvTranscriptEnabled, "yes-ish")

	cfg := DefaultConfig()
	err := ApplyEnv(cfg)
	require.Error(t, err, "invalid bool must be reported")

	t.Setenv(EnvTranscriptEnabled, "true")
	cfg = DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, "192.168.1.20", cfg.Network.ServerIP)
	assert.Equal(t, 27015, cfg.Network.SendPort)
	assert.Equal(t, 27016, cfg.Network.ListenPort)
	assert.Equal(t, []string{"chat", "0x13", "sys"}, cfg.Network.ShowTypes)
	assert.Equal(t, "debug", cfg.ApplicationData.Logging.Level)
	assert.True(t, cfg.ApplicationData.API.Enabled)
	assert.Equal(t, 9000, cfg.ApplicationData.API.Port)
	assert.Equal(t, "0.0.0.0", cfg.ApplicationData.API.BindAddress)
	assert.True(t, cfg.ApplicationData.MQTT.Enabled)
	assert.Equal(t, "broker.local", cfg.ApplicationData.MQTT.BrokerURL)
	assert.True(t, cfg.ApplicationData.Transcript.Enabled)
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	t.Setenv(EnvSendPort, "abc")
	assert.Error(t, ApplyEnv(DefaultConfig()))
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	t.Setenv(EnvServerIP, "  ")
	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, DefaultServerIP, cfg.Network.ServerIP)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CF_TEST_ONLY_VALUE=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("CF_TEST_ONLY_VALUE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("CF_TEST_ONLY_VALUE"))
}

func TestConfigDir(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	assert.Equal(t, DefaultConfigDir, ConfigDir())

	t.Setenv(EnvConfigDir, "/etc/cfclient")
	assert.Equal(t, "/etc/cfclient", ConfigDir())
}
