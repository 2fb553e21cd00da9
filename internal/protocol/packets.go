// Package protocol implements the ChatForwarder wire format: a one-byte
// category tag followed by a payload of UTF-8 text with embedded GoldSrc
// color codes. It also converts payloads into terminal text.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tag is the category byte at the start of every datagram.
type Tag byte

// Message source tags sent by the game-side plugin.
const (
	TagChat  Tag = 0x12 // SayText user messages
	TagGame  Tag = 0x13 // TextMsg HUD/center/console prints
	TagNet   Tag = 0x14 // svc_print from the server
	TagSys   Tag = 0x15 // engine debug output
	TagStuff Tag = 0x16 // svc_stufftext commands
)

// MaxDatagramSize is the receive buffer size used when none is configured.
const MaxDatagramSize = 4096

// ErrEmptyDatagram is returned for a zero-length datagram, which has no tag.
var ErrEmptyDatagram = errors.New("empty datagram")

var tagLabels = map[Tag]string{
	TagChat:  "[CHAT]",
	TagGame:  "[GAME]",
	TagNet:   "[NET]",
	TagSys:   "[SYS]",
	TagStuff: "[STUFF]",
}

// Label returns the display label for the tag, e.g. "[CHAT]".
// Unknown tags render as "[UNK:0xHH]".
func (t Tag) Label() string {
	if label, ok := tagLabels[t]; ok {
		return label
	}
	return fmt.Sprintf("[UNK:0x%02X]", byte(t))
}

// Known reports whether the tag has a fixed label.
func (t Tag) Known() bool {
	_, ok := tagLabels[t]
	return ok
}

// Name returns the lower-case label without brackets ("chat"), or
// "unknown" for unmapped tags.
func (t Tag) Name() string {
	if !t.Known() {
		return "unknown"
	}
	return strings.ToLower(strings.Trim(tagLabels[t], "[]"))
}

// String returns the tag as a hex literal.
func (t Tag) String() string {
	return fmt.Sprintf("0x%02X", byte(t))
}

// KnownTags returns the mapped tags in ascending order.
func KnownTags() []Tag {
	return []Tag{TagChat, TagGame, TagNet, TagSys, TagStuff}
}

// ParseTag parses a tag given as a hex literal ("0x12"), a decimal value
// ("18", leading zeros allowed) or a label name ("chat", "[CHAT]").
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty tag")
	}

	name := strings.ToUpper(strings.Trim(s, "[]"))
	for tag, label := range tagLabels {
		if strings.Trim(label, "[]") == name {
			return tag, nil
		}
	}

	base, digits := 10, s
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		base, digits = 16, s[2:]
	}
	v, err := strconv.ParseUint(digits, base, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q: %w", s, err)
	}
	return Tag(v), nil
}

// ParseTags parses a list of tag strings, failing on the first invalid entry.
func ParseTags(values []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(values))
	for _, v := range values {
		tag, err := ParseTag(v)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// Datagram is a received packet split into its tag and payload.
type Datagram struct {
	Tag     Tag
	Payload []byte
}

// ParseDatagram splits raw bytes into tag and payload. The payload is copied
// so the caller may reuse its buffer.
func ParseDatagram(b []byte) (Datagram, error) {
	if len(b) == 0 {
		return Datagram{}, ErrEmptyDatagram
	}
	payload := make([]byte, len(b)-1)
	copy(payload, b[1:])
	return Datagram{Tag: Tag(b[0]), Payload: payload}, nil
}

// TagFilter is an allow-list of tags. An empty filter allows every tag.
type TagFilter struct {
	allowed map[Tag]struct{}
}

// NewTagFilter builds a filter from the given tags.
func NewTagFilter(tags []Tag) TagFilter {
	f := TagFilter{}
	if len(tags) == 0 {
		return f
	}
	f.allowed = make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		f.allowed[t] = struct{}{}
	}
	return f
}

// Allows reports whether datagrams with this tag should be shown.
func (f TagFilter) Allows(t Tag) bool {
	if len(f.allowed) == 0 {
		return true
	}
	_, ok := f.allowed[t]
	return ok
}

// Empty reports whether the filter lets everything through.
func (f TagFilter) Empty() bool {
	return len(f.allowed) == 0
}
