// Package display renders received messages as terminal lines and
// serializes everything written to the operator's terminal.
package display

import (
	"io"
	"sync"
	"time"

	"github.com/energizer-project/chatforwarder/internal/protocol"
)

// TimestampFormat is the clock shown at the start of every line.
const TimestampFormat = "15:04:05"

// Printer serializes writes to the terminal. Every call results in exactly
// one Write on the underlying writer, so lines from the receive path, the
// logger and the console never interleave mid-line.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter wraps out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Write implements io.Writer.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

// Println writes line followed by a newline in a single write.
func (p *Printer) Println(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := p.Write(buf)
	return err
}

// FormatTimestamp renders "[HH:MM:SS]" in the timestamp style.
func FormatTimestamp(ts time.Time) string {
	return protocol.StyleTimestamp + "[" + ts.Format(TimestampFormat) + "]" + protocol.StyleReset
}

// FormatLine renders a datagram as "[time] [LABEL] decoded-text". The
// result always ends with a style reset.
func FormatLine(ts time.Time, dg protocol.Datagram) string {
	return FormatTimestamp(ts) + " " + dg.Tag.Label() + " " + protocol.Decode(dg.Payload)
}
