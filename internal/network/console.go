package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/energizer-project/chatforwarder/internal/util"
)

// CommandSender forwards a command line to the game.
type CommandSender interface {
	Send(ctx context.Context, source, text string) error
}

// IsQuitCommand reports whether line asks the client to stop.
func IsQuitCommand(line string) bool {
	cmd := strings.TrimSpace(line)
	return strings.EqualFold(cmd, "quit") || strings.EqualFold(cmd, "exit")
}

// Console reads operator input line by line and forwards it.
type Console struct {
	sender CommandSender
	logger zerolog.Logger
}

// NewConsole creates a console that forwards through sender.
func NewConsole(sender CommandSender) *Console {
	return &Console{
		sender: sender,
		logger: util.ComponentLogger("console"),
	}
}

// Run reads lines from in until quit, exit or end of input, all of which
// return nil. Lines of any length are sent without their terminator and
// otherwise unmodified. A cancelled ctx is noticed between lines.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)

	for {
		raw, readErr := reader.ReadString('\n')
		if raw != "" {
			if err := ctx.Err(); err != nil {
				return err
			}

			line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
			if IsQuitCommand(line) {
				c.logger.Info().Msg("quit requested")
				return nil
			}
			if strings.TrimSpace(line) != "" {
				if err := c.sender.Send(ctx, SourceConsole, line); err != nil {
					c.logger.Error().Err(err).Msg("send failed")
				}
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				c.logger.Warn().Err(readErr).Msg("failed to read input")
			}
			c.logger.Info().Msg("end of input")
			return nil
		}
	}
}
