// Package util provides logging setup and host information helpers.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogFilePrefix names the daily log files, e.g. cfclient_2024-05-01.log.
const LogFilePrefix = "cfclient_"

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string
	MaxBackups int
	Console    bool

	// ConsoleOut receives human-readable log lines. Defaults to os.Stdout.
	// Pass the shared printer so log lines and chat lines never interleave.
	ConsoleOut io.Writer
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console
// output. Calling it again replaces the logger and closes the previous file.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writers, file, err := buildWriters(cfg)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "cfclient").
		Logger()

	var logFilePath string
	if file != nil {
		logFilePath = file.Name()
	}
	swapLogFile(file)

	log.Debug().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if cfg.Directory != "" {
		go cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	}

	return nil
}

func buildWriters(cfg LogConfig) ([]io.Writer, *os.File, error) {
	var writers []io.Writer
	var file *os.File

	// JSON file for machine parsing
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		path := filepath.Join(cfg.Directory, LogFilePrefix+time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		file = f
		writers = append(writers, f)
	}

	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	return writers, file, nil
}

// swapLogFile records file as the active log file and closes the old one.
func swapLogFile(file *os.File) {
	logFileMu.Lock()
	old := logFile
	logFile = file
	logFileMu.Unlock()

	if old != nil && old != file {
		old.Close()
	}
}

// CloseLogger closes the log file and silences the global logger. Call it
// last, on the way out.
func CloseLogger() {
	logFileMu.Lock()
	old := logFile
	logFile = nil
	logFileMu.Unlock()

	if old == nil {
		return
	}
	log.Logger = zerolog.Nop()
	old.Close()
}

// cleanOldLogs keeps the newest maxBackups log files and removes the rest.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups < 1 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, LogFilePrefix) && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}

	// Date-stamped names sort chronologically.
	sort.Strings(names)
	for i := 0; i < len(names)-maxBackups; i++ {
		path := filepath.Join(directory, names[i])
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
