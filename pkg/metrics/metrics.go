// Package metrics exposes benchmark measurements as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives measurements from the publisher and subscriber.
type Recorder interface {
	ObservePublish(encoding string, seconds float64, bytes int)
	ObserveReceive(encoding string, seconds float64, bytes int)
	IncPublishFailure(encoding string)
	IncDecodeFailure(encoding string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObservePublish(string, float64, int) {}
func (Nop) ObserveReceive(string, float64, int) {}
func (Nop) IncPublishFailure(string)            {}
func (Nop) IncDecodeFailure(string)             {}

// Prom is a Recorder backed by Prometheus collectors, labelled by encoding.
type Prom struct {
	publishLatency  *prometheus.HistogramVec
	receiveLatency  *prometheus.HistogramVec
	payloadBytes    *prometheus.HistogramVec
	published       *prometheus.CounterVec
	received        *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
}

// NewProm creates the collectors and registers them with reg.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqttbench_publish_latency_seconds",
			Help:    "Time to encode and publish one record, including the QoS hand-shake.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"encoding"}),
		receiveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqttbench_receive_latency_seconds",
			Help:    "Receive time minus the record's construction timestamp.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"encoding"}),
		payloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqttbench_payload_bytes",
			Help:    "Encoded payload size.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"encoding", "direction"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbench_published_total",
			Help: "Records published successfully.",
		}, []string{"encoding"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbench_received_total",
			Help: "Records received and decoded successfully.",
		}, []string{"encoding"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbench_publish_failures_total",
			Help: "Publish attempts that failed to encode or were rejected by the transport.",
		}, []string{"encoding"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqttbench_decode_failures_total",
			Help: "Inbound payloads that could not be decoded.",
		}, []string{"encoding"}),
	}

	for _, c := range []prometheus.Collector{
		p.publishLatency, p.receiveLatency, p.payloadBytes,
		p.published, p.received, p.publishFailures, p.decodeFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) ObservePublish(encoding string, seconds float64, bytes int) {
	p.publishLatency.WithLabelValues(encoding).Observe(seconds)
	p.payloadBytes.WithLabelValues(encoding, "out").Observe(float64(bytes))
	p.published.WithLabelValues(encoding).Inc()
}

func (p *Prom) ObserveReceive(encoding string, seconds float64, bytes int) {
	p.receiveLatency.WithLabelValues(encoding).Observe(seconds)
	p.payloadBytes.WithLabelValues(encoding, "in").Observe(float64(bytes))
	p.received.WithLabelValues(encoding).Inc()
}

func (p *Prom) IncPublishFailure(encoding string) {
	p.publishFailures.WithLabelValues(encoding).Inc()
}

func (p *Prom) IncDecodeFailure(encoding string) {
	p.decodeFailures.WithLabelValues(encoding).Inc()
}
