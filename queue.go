package tinysip

import "strconv"

// Addr is a UDP peer address in string/int form, matching how addresses
// appear in SIP headers.
type Addr struct {
	IP   string
	Port int
}

func (a Addr) String() string {
	return a.IP + ":" + strconv.Itoa(a.Port)
}

// Datagram is one received UDP payload and its source.
type Datagram struct {
	Payload []byte
	Src     Addr
}

// Queue hands datagrams from the read loop to the workers. Enqueue never
// blocks; a full queue drops the datagram at the socket.
type Queue struct {
	ch chan *Datagram
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Datagram, capacity)}
}

// Enqueue reports whether the datagram was accepted.
func (q *Queue) Enqueue(d *Datagram) bool {
	select {
	case q.ch <- d:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a datagram is available or the queue is closed.
func (q *Queue) Dequeue() (*Datagram, bool) {
	d, ok := <-q.ch
	return d, ok
}

// Len returns the number of queued datagrams.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close ends the queue; pending datagrams are still drained by Dequeue.
func (q *Queue) Close() {
	close(q.ch)
}
