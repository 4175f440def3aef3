package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawSDP = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 192.168.1.50\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.168.1.50\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestDescribeSDP(t *testing.T) {
	body := []byte("Content-Type: application/sdp\r\nContent-Length: 0\r\n\r\n" + rawSDP)
	desc, ok := DescribeSDP(body)
	require.True(t, ok)
	assert.Contains(t, desc, "origin=alice@192.168.1.50")
	assert.Contains(t, desc, "media=audio:4000")
}

func TestDescribeSDPGarbage(t *testing.T) {
	_, ok := DescribeSDP([]byte("Content-Type: application/sdp\r\n\r\nnot sdp at all"))
	assert.False(t, ok)

	_, ok = DescribeSDP([]byte("Content-Type: application/sdp\r\n\r\n"))
	assert.False(t, ok)
}
