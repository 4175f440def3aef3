package tinysip

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the server's counters, registered on the registry the
// operator passes in.
type Metrics struct {
	ActiveCalls   prometheus.GaugeFunc
	Received      prometheus.Counter
	Sent          prometheus.Counter
	Dropped       prometheus.Counter
	Registrations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, calls *CallMap) *Metrics {
	m := &Metrics{
		ActiveCalls: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tinysip_active_calls",
			Help: "Calls currently allocated in the call map.",
		}, func() float64 {
			return float64(calls.Active())
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysip_messages_received_total",
			Help: "Datagrams read off the SIP socket.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysip_messages_sent_total",
			Help: "Messages written out.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysip_messages_dropped_total",
			Help: "Datagrams dropped because the work queue was full.",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinysip_registrations_total",
			Help: "Successful REGISTER refreshes.",
		}),
	}
	reg.MustRegister(m.ActiveCalls, m.Received, m.Sent, m.Dropped, m.Registrations)
	return m
}
