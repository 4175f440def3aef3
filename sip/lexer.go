package sip

import (
	"errors"
	"strconv"
	"strings"
)

// Kind discriminates requests from status responses.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindStatus
)

var (
	ErrNoCRLF       = errors.New("message has no CRLF")
	ErrEmptyLine    = errors.New("empty start line")
	ErrBadStartLine = errors.New("malformed start line")
)

const sdpContentType = "Content-Type: application/sdp"

// Message is a lexed view over one SIP datagram. Only the fields the call
// engine consumes are extracted; everything else stays in the raw buffer.
type Message struct {
	Kind       Kind
	Method     string
	StatusCode int

	// CallID is the Call-ID header value, CallIDLine the verbatim line.
	CallID     string
	CallIDLine string

	// Captured header lines, without trailing CRLF. Empty when absent.
	Via           string
	From          string
	To            string
	CSeq          string
	Contact       string
	Authorization string

	CSeqNumber  int
	MaxForwards int
	HasSDP      bool

	bodyOffset int
	raw        []byte
}

// Parse lexes a raw datagram. It fails only on a missing or empty start
// line or an unrecognizable method/status; missing headers are tolerated.
func Parse(data []byte) (*Message, error) {
	s := string(data)
	lineEnd := strings.Index(s, "\r\n")
	if lineEnd < 0 {
		return nil, ErrNoCRLF
	}
	if lineEnd == 0 {
		return nil, ErrEmptyLine
	}
	first := s[:lineEnd]

	m := &Message{
		raw:         data,
		MaxForwards: DefaultMaxForwards,
		bodyOffset:  -1,
	}

	m.Via = captureLine(s, "Via: ")
	m.From = captureLine(s, "From: ")
	m.To = captureLine(s, "To: ")
	m.CSeq = captureLine(s, "CSeq: ")
	m.CallIDLine = captureLine(s, "Call-ID: ")
	m.Contact = captureLine(s, "Contact: ")
	m.Authorization = captureLine(s, "Authorization: ")

	m.CallID = headerValue(s, "Call-ID:")
	m.CSeqNumber = ExtractCSeqNumber(m.CSeq)

	if v := headerValue(s, "Max-Forwards:"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.MaxForwards = n
		}
	}

	if i := strings.Index(s, sdpContentType); i >= 0 {
		m.HasSDP = true
		m.bodyOffset = i
	}

	sp := strings.IndexByte(first, ' ')
	if sp <= 0 {
		return nil, ErrBadStartLine
	}
	if strings.HasPrefix(first, "SIP/2.0") {
		m.Kind = KindStatus
		code := strings.TrimLeft(first[sp:], " ")
		j := 0
		for j < len(code) && isDigit(code[j]) {
			j++
		}
		if j == 0 {
			return nil, ErrBadStartLine
		}
		m.StatusCode, _ = strconv.Atoi(code[:j])
	} else {
		m.Kind = KindRequest
		m.Method = first[:sp]
	}
	return m, nil
}

// Raw returns the underlying datagram.
func (m *Message) Raw() []byte {
	return m.raw
}

// Body returns the message tail starting at its Content-Type line, or nil
// when no SDP was detected. Forwarded bodies are copied verbatim from here,
// Content-Type and Content-Length lines included.
func (m *Message) Body() []byte {
	if m.bodyOffset < 0 {
		return nil
	}
	return m.raw[m.bodyOffset:]
}

// DecrementedMaxForwards returns the Max-Forwards value to stamp on a
// forwarded request: one less than inbound, clamped at zero.
func (m *Message) DecrementedMaxForwards() int {
	if m.MaxForwards > 0 {
		return m.MaxForwards - 1
	}
	return 0
}

// CSeqMentions reports whether the captured CSeq line names the method.
// Responses are transaction-matched no further than this.
func (m *Message) CSeqMentions(method string) bool {
	return strings.Contains(m.CSeq, method)
}

// ExtractCSeqNumber returns the first run of digits in a CSeq line.
// A missing line yields -1, a line without digits yields 1.
func ExtractCSeqNumber(line string) int {
	if line == "" {
		return -1
	}
	i := 0
	for i < len(line) && !isDigit(line[i]) {
		i++
	}
	j := i
	for j < len(line) && isDigit(line[j]) {
		j++
	}
	if j == i {
		return 1
	}
	n, _ := strconv.Atoi(line[i:j])
	return n
}

// UserFromURI extracts the username between "sip:" and "@" in a header
// line, the way the registrar resolves who a From line belongs to.
func UserFromURI(line string) (string, bool) {
	i := strings.Index(line, "sip:")
	if i < 0 {
		return "", false
	}
	rest := line[i+4:]
	j := strings.IndexByte(rest, '@')
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}

// CalleeFromTo resolves the dialed username from a To line: the URI between
// angle brackets, sip:/tel: scheme stripped, cut at '@' or whitespace.
func CalleeFromTo(line string) (string, bool) {
	uri := ContactURI(line)
	if uri == "" {
		return "", false
	}
	if strings.HasPrefix(uri, "sip:") || strings.HasPrefix(uri, "tel:") {
		uri = uri[4:]
	}
	if k := strings.IndexAny(uri, "@ "); k >= 0 {
		uri = uri[:k]
	}
	return uri, uri != ""
}

// ContactURI returns the URI between the angle brackets of a header line,
// or "" when the line carries none.
func ContactURI(line string) string {
	i := strings.IndexByte(line, '<')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(line[i+1:], '>')
	if j < 0 {
		return ""
	}
	return line[i+1 : i+1+j]
}

// RewriteVia stamps the request's source address onto its Via line:
// ";received=<ip>" is appended, and a ";rport" token (bare or already
// valued) is replaced with ";rport=<port>;received=<ip>". Any suffix after
// the replaced token is preserved.
func RewriteVia(via, ip string, port int) string {
	i := strings.Index(via, ";rport")
	if i < 0 {
		return via + ";received=" + ip
	}
	rest := via[i+len(";rport"):]
	if strings.HasPrefix(rest, "=") {
		j := 1
		for j < len(rest) && isDigit(rest[j]) {
			j++
		}
		rest = rest[j:]
	}
	return via[:i] + ";rport=" + strconv.Itoa(port) + ";received=" + ip + rest
}

func captureLine(s, prefix string) string {
	i := strings.Index(s, prefix)
	if i < 0 {
		return ""
	}
	end := strings.Index(s[i:], "\r\n")
	if end < 0 {
		return ""
	}
	return s[i : i+end]
}

func headerValue(s, name string) string {
	i := strings.Index(s, name)
	if i < 0 {
		return ""
	}
	v := s[i+len(name):]
	v = strings.TrimLeft(v, " ")
	if end := strings.IndexAny(v, "\r\n"); end >= 0 {
		v = v[:end]
	}
	return v
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
