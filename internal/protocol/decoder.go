package protocol

import (
	"strings"
	"unicode/utf8"
)

// GoldSrc inline color codes. Only bytes below 0x20 can be codes, so they
// never collide with UTF-8 lead or continuation bytes.
const (
	CodeNormal  byte = 0x01
	CodeName    byte = 0x02
	CodeTeam    byte = 0x03
	CodeGreen   byte = 0x04
	CodeNewline byte = 0x0A
	CodeReturn  byte = 0x0D
)

// ANSI styles emitted for the color codes.
const (
	StyleReset     = "\x1b[0m"
	StyleNormal    = "\x1b[0m"
	StyleName      = "\x1b[1;36m"
	StyleTeam      = "\x1b[33m"
	StyleGreen     = "\x1b[32m"
	StyleTimestamp = "\x1b[90m"
)

var ansiStyles = map[byte]string{
	CodeNormal: StyleNormal,
	CodeName:   StyleName,
	CodeTeam:   StyleTeam,
	CodeGreen:  StyleGreen,
}

// Decode converts a payload into terminal text. Color codes become ANSI
// styles, 0x0A becomes a newline and every other control byte is dropped.
// Remaining bytes are decoded as UTF-8 with invalid sequences replaced by
// U+FFFD. The result always ends with a single reset sequence.
func Decode(payload []byte) string {
	out := render(payload, ansiStyles)
	for strings.HasSuffix(out, StyleReset) {
		out = strings.TrimSuffix(out, StyleReset)
	}
	return out + StyleReset
}

// Strip converts a payload into plain text with all color codes removed.
func Strip(payload []byte) string {
	return render(payload, nil)
}

func render(payload []byte, styles map[byte]string) string {
	var out strings.Builder
	out.Grow(len(payload) + 16)

	// Text bytes are held back until a style has to be written so a
	// multi-byte sequence is always decoded as one unit.
	text := make([]byte, 0, len(payload))
	flush := func() {
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRune(text[i:])
			out.WriteRune(r)
			i += size
		}
		text = text[:0]
	}

	for _, b := range payload {
		if b >= 0x20 {
			text = append(text, b)
			continue
		}
		switch b {
		case CodeNewline:
			text = append(text, '\n')
		default:
			style, ok := styles[b]
			if !ok {
				continue
			}
			flush()
			out.WriteString(style)
		}
	}
	flush()

	return out.String()
}
