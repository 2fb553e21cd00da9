package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSetupAborted is returned when the wizard runs out of input before the
// configuration is valid.
var ErrSetupAborted = errors.New("setup aborted")

// RunSetupWizard asks for the game's address and ports on first run and
// saves the answers. Empty answers keep the shown default. The caller keeps
// using reader afterwards, so nothing past the last answer is consumed.
func RunSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	w := &wizard{reader: reader, out: out}

	fmt.Fprintln(out, "First run: where is the game running?")
	fmt.Fprintln(out, "Press Enter to keep the value in brackets.")

	for {
		cfg.mu.Lock()
		n := &cfg.Network
		n.ServerIP = w.promptString("Game server address", n.ServerIP)
		n.SendPort = w.promptInt("Game listen port (cf_listen_port)", n.SendPort)
		n.ListenPort = w.promptInt("Local port for forwarded messages (cf_server_port)", n.ListenPort)
		n.ShowTypes = splitList(w.promptString("Show only these tags (e.g. chat,sys, empty for all)",
			strings.Join(n.ShowTypes, ",")))
		cfg.mu.Unlock()

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof {
			return ErrSetupAborted
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "Configuration saved to %s\n\n", cfg.Path())
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) readLine() string {
	if w.eof {
		return ""
	}
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}
