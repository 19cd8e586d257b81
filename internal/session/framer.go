package session

import "strings"

// CompletionHandler receives a complete message once the end marker is seen
type CompletionHandler func(message string)

// Framer accumulates decoded lines into the message buffer and, when an end
// marker is configured, cuts a message when a line equals the marker.
//
// With an empty marker the buffer only grows; nothing is ever cut.
type Framer struct {
	marker string
	buf    strings.Builder
}

// NewFramer creates a framer; marker "" disables message boundaries
func NewFramer(marker string) *Framer {
	return &Framer{marker: marker}
}

// Feed appends line plus a newline to the buffer. The comparison with the
// marker is exact and case-sensitive. The marker line itself is part of the
// returned message, which is trimmed of surrounding whitespace.
func (f *Framer) Feed(line string) (message string, complete bool) {
	f.buf.WriteString(line)
	f.buf.WriteByte('\n')

	if f.marker == "" || line != f.marker {
		return "", false
	}

	message = strings.TrimSpace(f.buf.String())
	f.buf.Reset()
	return message, true
}

// Buffered returns the current buffer contents
func (f *Framer) Buffered() string {
	return f.buf.String()
}

// Enabled reports whether an end marker is configured
func (f *Framer) Enabled() bool {
	return f.marker != ""
}
