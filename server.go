package tinysip

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prometheus/client_golang/prometheus"
)

// Sender writes an outbound message to a peer address.
type Sender interface {
	Send(payload []byte, dst Addr) error
}

// UDPSender sends each message from an ephemeral socket. Replies come back
// to the listening port named in the Via, not to the sending socket.
type UDPSender struct {
	metrics *Metrics
}

func NewUDPSender(metrics *Metrics) *UDPSender {
	return &UDPSender{metrics: metrics}
}

func (s *UDPSender) Send(payload []byte, dst Addr) error {
	conn, err := net.Dial("udp", dst.String())
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return err
	}
	s.metrics.Sent.Inc()
	return nil
}

// Server owns the UDP socket, the work queue and the worker pool, and
// wires the engine and registrar together.
type Server struct {
	cfg     *Config
	queue   *Queue
	calls   *CallMap
	engine  *Engine
	metrics *Metrics

	conn *net.UDPConn
	wg   sync.WaitGroup
	log  zerolog.Logger
}

func NewServer(cfg *Config, reg prometheus.Registerer, log zerolog.Logger) *Server {
	calls := NewCallMap()
	metrics := NewMetrics(reg, calls)
	sender := NewUDPSender(metrics)
	locations := NewLocationTable(DefaultLocations(cfg.AdvertiseIP))
	registrar := NewRegistrar(locations, sender, metrics, log)
	engine := NewEngine(cfg, calls, locations, registrar, sender, metrics, log)
	return &Server{
		cfg:     cfg,
		queue:   NewQueue(QueueCapacity),
		calls:   calls,
		engine:  engine,
		metrics: metrics,
		log:     log.With().Str("caller", "Server").Logger(),
	}
}

// ListenAndServe binds the SIP socket and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", s.cfg.BindAddr+":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.log.Info().Str("addr", laddr.String()).Msg("listening")

	for i := 0; i < NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	err = s.readLoop(conn)
	s.queue.Close()
	s.wg.Wait()
	return err
}

func (s *Server) readLoop(conn *net.UDPConn) error {
	buf := make([]byte, BufferSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if n == 0 || len(bytes.Trim(buf[:n], "\r\n")) == 0 {
			// Keepalive pings from softphones.
			continue
		}
		s.metrics.Received.Inc()

		payload := make([]byte, n)
		copy(payload, buf[:n])
		d := &Datagram{
			Payload: payload,
			Src:     Addr{IP: raddr.IP.String(), Port: raddr.Port},
		}
		if !s.queue.Enqueue(d) {
			s.metrics.Dropped.Inc()
			s.log.Warn().Str("src", d.Src.String()).Msg("queue full, datagram dropped")
		}
	}
}

func (s *Server) worker(id int) {
	defer s.wg.Done()
	log := s.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")
	for {
		d, ok := s.queue.Dequeue()
		if !ok {
			log.Debug().Msg("worker stopped")
			return
		}
		s.engine.HandleDatagram(d)
	}
}
