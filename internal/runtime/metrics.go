package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
)

// PipelineMetrics holds the Prometheus collectors of a pipeline and its
// assistants. A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	messagesSent   *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	deliveryTime   *prometheus.HistogramVec
	addresses      *prometheus.GaugeVec
	pendingReplies *prometheus.GaugeVec
	droppedReplies *prometheus.CounterVec
}

// NewPipelineMetrics creates the collectors under namespace. A nil registerer
// selects prometheus.DefaultRegisterer.
func NewPipelineMetrics(namespace string, registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "kernelbus"
	}

	return &PipelineMetrics{
		registerer: registerer,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages accepted by Pipeline.Send",
		}, []string{"body_kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Listener invocations by outcome",
		}, []string{"recipient", "body_kind", "outcome"}),
		deliveryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent inside ProcessMessage",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"recipient"}),
		addresses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_addresses",
			Help:      "Addresses in the listener and sender tables",
		}, []string{"table"}),
		pendingReplies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_replies",
			Help:      "Requests waiting for a reply, per assistant address",
		}, []string{"address"}),
		droppedReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_dropped_total",
			Help:      "Replies discarded by an assistant",
		}, []string{"address", "reason"}),
	}
}

// Register registers the collectors. Collectors that are already registered
// are adopted, so several pipelines may share one registry.
func (m *PipelineMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	errs := []error{
		registerOrReuse(m.registerer, &m.messagesSent),
		registerOrReuse(m.registerer, &m.deliveries),
		registerOrReuse(m.registerer, &m.deliveryTime),
		registerOrReuse(m.registerer, &m.addresses),
		registerOrReuse(m.registerer, &m.pendingReplies),
		registerOrReuse(m.registerer, &m.droppedReplies),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func registerOrReuse[C prometheus.Collector](registerer prometheus.Registerer, collector *C) error {
	err := registerer.Register(*collector)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return err
	}
	*collector = existing
	return nil
}

func (m *PipelineMetrics) RecordSent(kind envelope.BodyKind) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(kind)).Inc()
}

func (m *PipelineMetrics) RecordDelivery(recipient, kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(recipient, kind, outcome).Inc()
	m.deliveryTime.WithLabelValues(recipient).Observe(duration.Seconds())
}

func (m *PipelineMetrics) SetRegistered(table string, count int) {
	if m == nil {
		return
	}
	m.addresses.WithLabelValues(table).Set(float64(count))
}

func (m *PipelineMetrics) SetPendingReplies(address envelope.Address, count int) {
	if m == nil {
		return
	}
	m.pendingReplies.WithLabelValues(address.Name()).Set(float64(count))
}

func (m *PipelineMetrics) RecordReplyDropped(address envelope.Address, reason string) {
	if m == nil {
		return
	}
	m.droppedReplies.WithLabelValues(address.Name(), reason).Inc()
}

// Reset clears every series (useful for testing).
func (m *PipelineMetrics) Reset() {
	if m == nil {
		return
	}
	m.messagesSent.Reset()
	m.deliveries.Reset()
	m.deliveryTime.Reset()
	m.addresses.Reset()
	m.pendingReplies.Reset()
	m.droppedReplies.Reset()
}
