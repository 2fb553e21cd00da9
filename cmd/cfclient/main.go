// cfclient is the interactive test client for the ChatForwarder game plugin.
//
// It prints the chat, game and system messages the plugin forwards over UDP
// with their color codes rendered for the terminal, and sends every line typed
// on stdin to the game as a command. Optional sinks relay the traffic to MQTT,
// record it in a SQLite transcript, and expose it through an HTTP monitor.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/api"
	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/db"
	"github.com/energizer-project/chatforwarder/internal/display"
	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/network"
	"github.com/energizer-project/chatforwarder/internal/scheduler"
	"github.com/energizer-project/chatforwarder/internal/telemetry"
	"github.com/energizer-project/chatforwarder/internal/util"
)

const (
	AppName    = "cfclient"
	AppVersion = "1.0.0"
	Banner     = `
   ____ _           _   _____                                _
  / ___| |__   __ _| |_|  ___|__  _ ____      ____ _ _ __ __| | ___ _ __
 | |   | '_ \ / _' | __| |_ / _ \| '__\ \ /\ / / _' | '__/ _' |/ _ \ '__|
 | |___| | | | (_| | |_|  _| (_) | |   \ V  V / (_| | | | (_| |  __/ |
  \____|_| |_|\__,_|\__|_|  \___/|_|    \_/\_/ \__,_|_|  \__,_|\___|_|
  test client v%s
`
)

func main() {
	os.Exit(run())
}

func run() int {
	// Everything written to the terminal goes through one printer so log
	// lines and chat lines never interleave.
	printer := display.NewPrinter(os.Stdout)
	fmt.Fprintf(printer, Banner+"\n", AppVersion)

	logCfg := util.DefaultLogConfig()
	logCfg.ConsoleOut = printer
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer util.CloseLogger()

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load(config.ConfigDir())
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	// One reader for stdin: the wizard and the console share its buffer.
	stdin := bufio.NewReader(os.Stdin)
	if cfg.IsFirstRun() && isatty.IsTerminal(os.Stdin.Fd()) {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, stdin, printer); err != nil {
			log.Error().Err(err).Msg("setup wizard failed")
			return 1
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Error().Err(err).Msg("invalid environment override")
		return 1
	}

	appData := cfg.GetApplicationData()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
	logCfg.MaxBackups = appData.Logging.MaxBackups
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Str("config", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
		return 1
	}

	sysInfo := util.GetSystemInfo()
	log.Debug().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	netCfg := cfg.GetNetwork()
	session := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	bus := events.NewBus()
	stats := metrics.New()

	loop, err := network.NewLoop(network.Options{
		Network:   netCfg,
		Printer:   printer,
		Metrics:   stats,
		Bus:       bus,
		SessionID: session,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize network")
		return 1
	}

	// Optional sinks run until sinkCtx is cancelled after the loop stops.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	var wg sync.WaitGroup

	var transcript *db.Transcript
	if appData.Transcript.Enabled {
		transcript, err = db.OpenTranscript(appData.Transcript.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open transcript, recording disabled")
		} else {
			transcript.Subscribe(bus)
		}
	}

	if appData.MQTT.Enabled {
		relay, err := telemetry.NewRelay(appData.MQTT, bus, loop.Sender(), session)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, relay disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := relay.Start(sinkCtx); err != nil {
					log.Warn().Err(err).Msg("MQTT relay failed")
				}
			}()
		}
	}

	if appData.API.Enabled {
		history := api.NewHistory(appData.API.HistorySize)
		history.Subscribe(bus)

		opts := api.Options{
			Config:    appData.API,
			Network:   netCfg,
			Sender:    loop.Sender(),
			Metrics:   stats,
			History:   history,
			SessionID: session,
			Debug:     appData.Logging.Level == "debug",
		}
		if transcript != nil {
			opts.Transcript = transcript
		}
		apiServer := api.NewServer(opts)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(sinkCtx, "API server", apiServer.Start, 3); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	schedOpts := scheduler.Options{
		Metrics:       stats,
		StatsInterval: time.Duration(appData.Logging.StatsIntervalMin) * time.Minute,
	}
	if transcript != nil {
		schedOpts.Transcript = transcript
		schedOpts.RetentionDays = appData.Transcript.RetentionDays
		schedOpts.CleanupTime = appData.Transcript.CleanupTime
	}
	sched := scheduler.NewScheduler(schedOpts)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(sinkCtx)
	}()

	fmt.Fprintf(printer, "Sending to %s, listening on port %d. Type quit or exit to stop.\n",
		loop.Sender().Remote(), netCfg.ListenPort)

	exitCode := 0
	if err := loop.Run(ctx, stdin); err != nil {
		log.Error().Err(err).Msg("network loop failed")
		exitCode = 1
	}

	stopSinks()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("sinks did not stop within 5 seconds")
	}

	bus.Stop()
	if transcript != nil {
		if err := transcript.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close transcript")
		}
	}

	display.RenderSummary(printer, stats.Snapshot())
	log.Info().Str("session", session).Msg("cfclient stopped")
	return exitCode
}

// startWithRetry attempts to start a server, retrying bind errors once per
// second. Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 1s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
	return lastErr
}
