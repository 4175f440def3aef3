// Package fakes provides test doubles for the server's network edges.
package fakes

import (
	"sync"

	"github.com/tinysip/tinysip"
)

// Sent is one recorded outbound message.
type Sent struct {
	Payload []byte
	Dst     tinysip.Addr
}

// SendRecorder implements tinysip.Sender and records every message
// instead of writing to the network.
type SendRecorder struct {
	mu   sync.Mutex
	sent []Sent
}

func NewSendRecorder() *SendRecorder {
	return &SendRecorder{}
}

func (r *SendRecorder) Send(payload []byte, dst tinysip.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]byte, len(payload))
	copy(p, payload)
	r.sent = append(r.sent, Sent{Payload: p, Dst: dst})
	return nil
}

// All returns every recorded message in send order.
func (r *SendRecorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent message, or a zero Sent when none exist.
func (r *SendRecorder) Last() Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}
	}
	return r.sent[len(r.sent)-1]
}

// To returns the messages sent to one address.
func (r *SendRecorder) To(dst tinysip.Addr) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.Dst == dst {
			out = append(out, s)
		}
	}
	return out
}
