package sip

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// DescribeSDP decodes an observed media description and summarizes it for
// the log: origin and the offered media lines. The input is the captured
// body tail, Content-Type and Content-Length lines included. Decoding is
// best effort; signaling forwards the body verbatim whether or not it
// parses.
func DescribeSDP(body []byte) (string, bool) {
	payload := body
	if i := bytes.Index(body, []byte("\r\n\r\n")); i >= 0 {
		payload = body[i+4:]
	}
	if len(payload) == 0 {
		return "", false
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal(payload); err != nil {
		return "", false
	}

	parts := make([]string, 0, len(sd.MediaDescriptions)+1)
	if sd.Origin.UnicastAddress != "" {
		parts = append(parts, "origin="+sd.Origin.Username+"@"+sd.Origin.UnicastAddress)
	}
	for _, md := range sd.MediaDescriptions {
		parts = append(parts, "media="+md.MediaName.Media+":"+strconv.Itoa(md.MediaName.Port.Value))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}
