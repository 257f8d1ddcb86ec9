package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Subscriber's prometheus collectors, following the
// register/unregister pattern of pkg/dataobj/consumer/metrics.go:
// construct once, register against a Registerer at startup, tolerate
// AlreadyRegisteredError, and unregister on shutdown.
type metrics struct {
	acksSent            prometheus.Counter
	nacksSent           prometheus.Counter
	modifyDeadlinesSent prometheus.Counter
	requestsFlushed     prometheus.Counter
	reconnectsTotal     prometheus.Counter
	streamAckDeadline   prometheus.Gauge
	inFlightMessages    prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_subscriber_acks_sent_total",
			Help: "Total number of message acknowledgements sent.",
		}),
		nacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_subscriber_nacks_sent_total",
			Help: "Total number of message negative-acknowledgements sent.",
		}),
		modifyDeadlinesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_subscriber_modify_ack_deadlines_sent_total",
			Help: "Total number of modify-ack-deadline entries sent.",
		}),
		requestsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_subscriber_requests_flushed_total",
			Help: "Total number of StreamingPullRequest frames flushed to the stream.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_subscriber_reconnects_total",
			Help: "Total number of times the pull stream was reopened after an error.",
		}),
		streamAckDeadline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pubsub_subscriber_stream_ack_deadline_seconds",
			Help: "Current ack deadline in seconds reported to the stream.",
		}),
		inFlightMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pubsub_subscriber_in_flight_messages",
			Help: "Number of leased messages awaiting an ack or nack decision.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.acksSent,
		m.nacksSent,
		m.modifyDeadlinesSent,
		m.requestsFlushed,
		m.reconnectsTotal,
		m.streamAckDeadline,
		m.inFlightMessages,
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *metrics) unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}
