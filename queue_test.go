package tinysip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	q := NewQueue(2)
	d := &Datagram{Payload: []byte("x"), Src: Addr{IP: "1.2.3.4", Port: 5060}}

	require.True(t, q.Enqueue(d))
	assert.Equal(t, 1, q.Len())

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Same(t, d, got)
}

func TestQueueFullDrops(t *testing.T) {
	q := NewQueue(1)
	require.True(t, q.Enqueue(&Datagram{}))
	assert.False(t, q.Enqueue(&Datagram{}))
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue(2)
	require.True(t, q.Enqueue(&Datagram{Payload: []byte("a")}))
	q.Close()

	d, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), d.Payload)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestAddrString(t *testing.T) {
	assert.Equal(t, "192.168.1.50:5060", Addr{IP: "192.168.1.50", Port: 5060}.String())
}
