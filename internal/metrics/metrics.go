// Package metrics records mesh traffic counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records per-node traffic metrics.
type Recorder interface {
	PacketSent(kind string)
	PacketDropped()
	NackReceived(cause string)
	Retransmitted()
	FloodStarted()
	MessageReceived()
	MessageDelivered()
	MessageFailed()
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (dummy) PacketSent(string)   {}
func (dummy) PacketDropped()      {}
func (dummy) NackReceived(string) {}
func (dummy) Retransmitted()      {}
func (dummy) FloodStarted()       {}
func (dummy) MessageReceived()    {}
func (dummy) MessageDelivered()   {}
func (dummy) MessageFailed()      {}

// Prometheus holds the metric vectors shared by every node of a network.
type Prometheus struct {
	sent     *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	nacks    *prometheus.CounterVec
	resent   *prometheus.CounterVec
	floods   *prometheus.CounterVec
	messages *prometheus.CounterVec
}

// NewPrometheus creates the metric vectors and registers them with reg.
func NewPrometheus(service string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_sent_total",
			Help: "The total number of packets pushed onto links",
		}, []string{"node", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_packets_dropped_total",
			Help: "The total number of fragments dropped by relays",
		}, []string{"node"}),
		nacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_nacks_received_total",
			Help: "The total number of negative acknowledgments received",
		}, []string{"node", "cause"}),
		resent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_fragments_retransmitted_total",
			Help: "The total number of retransmitted fragments",
		}, []string{"node"}),
		floods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_floods_started_total",
			Help: "The total number of discovery rounds started",
		}, []string{"node"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_messages_total",
			Help: "The total number of messages by outcome",
		}, []string{"node", "outcome"}),
	}

	for _, c := range []prometheus.Collector{p.sent, p.dropped, p.nacks, p.resent, p.floods, p.messages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Node returns a Recorder labelled with the given node.
func (p *Prometheus) Node(node string) Recorder {
	return &prom{p: p, node: node}
}

type prom struct {
	p    *Prometheus
	node string
}

func (m *prom) PacketSent(kind string) {
	m.p.sent.WithLabelValues(m.node, kind).Inc()
}

func (m *prom) PacketDropped() {
	m.p.dropped.WithLabelValues(m.node).Inc()
}

func (m *prom) NackReceived(cause string) {
	m.p.nacks.WithLabelValues(m.node, cause).Inc()
}

func (m *prom) Retransmitted() {
	m.p.resent.WithLabelValues(m.node).Inc()
}

func (m *prom) FloodStarted() {
	m.p.floods.WithLabelValues(m.node).Inc()
}

func (m *prom) MessageReceived() {
	m.p.messages.WithLabelValues(m.node, "received").Inc()
}

func (m *prom) MessageDelivered() {
	m.p.messages.WithLabelValues(m.node, "delivered").Inc()
}

func (m *prom) MessageFailed() {
	m.p.messages.WithLabelValues(m.node, "failed").Inc()
}
