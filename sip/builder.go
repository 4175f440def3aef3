package sip

import (
	"strconv"
	"strings"
)

// Builder mints the headers that carry the server's own identity. Every
// other header on an outbound message is an echoed or stored verbatim line.
type Builder struct {
	IP   string
	Port int
}

func (b Builder) addr() string {
	return b.IP + ":" + strconv.Itoa(b.Port)
}

// Via returns a fresh Via line for a request the server originates.
func (b Builder) Via() string {
	return "Via: SIP/2.0/UDP " + b.addr() + ";branch=" + GenerateBranch()
}

// Contact returns the server's Contact line.
func (b Builder) Contact() string {
	return "Contact: <sip:" + UserAgent + "@" + b.addr() + ">"
}

// Format assembles an outbound message: start line, header lines, body.
// Empty header lines are skipped. A nil body closes the message with
// Content-Length: 0 and the terminating blank line; a non-nil body is
// appended as is, since it was captured from its Content-Type line onward
// and carries its own Content-Length and separator.
func Format(startLine string, headers []string, body []byte) []byte {
	var sb strings.Builder
	sb.Grow(len(startLine) + 256 + len(body))
	sb.WriteString(startLine)
	sb.WriteString("\r\n")
	for _, h := range headers {
		if h == "" {
			continue
		}
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	if body == nil {
		sb.WriteString("Content-Length: 0\r\n\r\n")
		return []byte(sb.String())
	}
	return append([]byte(sb.String()), body...)
}
