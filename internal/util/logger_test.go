package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesFileAndConsole(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		CloseLogger()
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := t.TempDir()
	var console bytes.Buffer
	require.NoError(t, InitLogger(LogConfig{
		Level:      "info",
		Directory:  dir,
		MaxBackups: 3,
		Console:    true,
		ConsoleOut: &console,
	}))

	log.Info().Str("port", "26000").Msg("listening")

	assert.Contains(t, console.String(), "listening")
	assert.Contains(t, console.String(), "26000")

	logFile := filepath.Join(dir, LogFilePrefix+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"listening"`)
	assert.Contains(t, string(data), `"app":"cfclient"`)
}

func TestInitLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	require.NoError(t, InitLogger(LogConfig{Level: "loud", Console: false}))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitLogger_ReinitClosesPreviousFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		CloseLogger()
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	require.NoError(t, InitLogger(LogConfig{Level: "info", Directory: t.TempDir()}))
	logFileMu.Lock()
	first := logFile
	logFileMu.Unlock()
	require.NotNil(t, first)

	require.NoError(t, InitLogger(LogConfig{Level: "info", Directory: t.TempDir()}))
	_, err := first.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)

	logFileMu.Lock()
	second := logFile
	logFileMu.Unlock()
	require.NotNil(t, second)

	CloseLogger()
	_, err = second.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"cfclient_2024-01-01.log",
		"cfclient_2024-01-02.log",
		"cfclient_2024-01-03.log",
		"cfclient_2024-01-04.log",
		"other.log",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644))
	}

	cleanOldLogs(dir, 2)

	assert.NoFileExists(t, filepath.Join(dir, "cfclient_2024-01-01.log"))
	assert.NoFileExists(t, filepath.Join(dir, "cfclient_2024-01-02.log"))
	assert.FileExists(t, filepath.Join(dir, "cfclient_2024-01-03.log"))
	assert.FileExists(t, filepath.Join(dir, "cfclient_2024-01-04.log"))
	assert.FileExists(t, filepath.Join(dir, "other.log"))
}

func TestComponentLogger(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := ComponentLogger("receiver")
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"receiver"`)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.Equal(t, GetPlatform(), info.Platform)
	assert.NotZero(t, info.CPUCores)
	assert.NotEmpty(t, info.Architecture)
}
