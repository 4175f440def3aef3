// Package tinysip is a minimal SIP signaling server: a B2BUA that sets up
// and tears down calls between registered softphones, forwarding the SDP of
// each leg transparently. No media passes through it.
package tinysip

import (
	"os"
	"strconv"
)

// Fixed sizing of the engine. Datagrams larger than BufferSize are
// truncated by the socket; the queue and worker counts bound how much
// inbound signaling is in flight at once.
const (
	BufferSize    = 1400
	DefaultPort   = 5060
	QueueCapacity = 10
	NumWorkers    = 5
	MaxCalls      = 32
)

// Config carries the runtime settings. AdvertiseIP feeds every Via and
// Contact the server mints, so it must be the interface the softphones
// reach.
type Config struct {
	BindAddr    string
	Port        int
	AdvertiseIP string
	HTTPAddr    string
	Debug       bool
}

// DefaultConfig returns the compiled-in settings, overridable through
// TINYSIP_BIND, TINYSIP_IP, TINYSIP_PORT, TINYSIP_HTTP and TINYSIP_DEBUG.
func DefaultConfig() *Config {
	cfg := &Config{
		BindAddr:    "0.0.0.0",
		Port:        DefaultPort,
		AdvertiseIP: "192.168.32.131",
		HTTPAddr:    ":8080",
	}
	if v := os.Getenv("TINYSIP_BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("TINYSIP_IP"); v != "" {
		cfg.AdvertiseIP = v
	}
	if v := os.Getenv("TINYSIP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TINYSIP_HTTP"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.Debug = os.Getenv("TINYSIP_DEBUG") != ""
	return cfg
}
