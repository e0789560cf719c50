package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	"github.com/drblury/kernelbus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ListenerInfo describes one registered address.
type ListenerInfo struct {
	Address  string         `json:"address"`
	Listener bool           `json:"listener"`
	Sender   bool           `json:"sender"`
	Stats    *ListenerStats `json:"stats,omitempty"`
}

// ListenerStats accumulates delivery statistics for one listener.
type ListenerStats struct {
	mu   sync.Mutex
	data StatsSnapshot

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resources        *resourceSampler
}

// StatsSnapshot is a point-in-time copy of a listener's statistics.
type StatsSnapshot struct {
	Address             string    `json:"address"`
	DeliveriesProcessed uint64    `json:"deliveries_processed"`
	DeliveriesFailed    uint64    `json:"deliveries_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Timeout    uint64 `json:"timeout"`
	Panic      uint64 `json:"panic"`
	Routing    uint64 `json:"routing"`
	Listener   uint64 `json:"listener"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	HeapBytes  uint64  `json:"heap_bytes"`
	Goroutines int     `json:"goroutines"`
}

type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryRouting    ErrorCategory = "routing"
	ErrorCategoryListener   ErrorCategory = "listener"
)

// ErrorClassifier maps a delivery error to the category it is counted under.
type ErrorClassifier func(error) ErrorCategory

func newListenerStats(address string, resources *resourceSampler) *ListenerStats {
	return &ListenerStats{
		data: StatsSnapshot{
			Address: address,
			Backlog: BacklogMetrics{EstimatedLagMillis: -1},
		},
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		resources:        resources,
	}
}

type deliveryInvocation struct {
	lagMillis int64
}

func (s *ListenerStats) onDeliveryStart(md metadatapkg.Metadata) deliveryInvocation {
	lag := int64(-1)
	if at, ok := md.EnqueuedAt(); ok {
		lag = max(time.Since(at).Milliseconds(), 0)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Backlog.InFlight++
	if s.data.Backlog.InFlight > s.data.Backlog.MaxInFlight {
		s.data.Backlog.MaxInFlight = s.data.Backlog.InFlight
	}
	return deliveryInvocation{lagMillis: lag}
}

func (s *ListenerStats) onDeliveryFinish(inv deliveryInvocation, duration time.Duration, err error, classifier ErrorClassifier) {
	var resources ResourceUsage
	if s.resources != nil {
		resources = s.resources.Snapshot()
	}
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	category := classifier(err)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	d := &s.data
	if d.Backlog.InFlight > 0 {
		d.Backlog.InFlight--
	}
	if inv.lagMillis >= 0 {
		d.Backlog.EstimatedLagMillis = inv.lagMillis
	}

	d.DeliveriesProcessed++
	if err != nil {
		d.DeliveriesFailed++
	}
	d.TotalProcessingTime += int64(duration)
	d.LastProcessedAt = now.UTC()

	s.latencyWindow.Add(duration)
	d.Latency = s.latencyWindow.Snapshot()

	tp := s.throughputWindow.AddAndSnapshot(now)
	d.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
		TotalMessages:    d.DeliveriesProcessed,
	}

	d.Errors.Record(category, err)
	d.Resource = resources
}

// Snapshot returns a copy of the current statistics.
func (s *ListenerStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *ListenerStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(s.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Listener++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryRouting:
		e.Routing++
	default:
		e.Listener++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var recovered middleware.RecoveredPanicError
	switch {
	case errors.As(err, &recovered):
		return ErrorCategoryPanic
	case errors.Is(err, errspkg.ErrUnknownAddress):
		return ErrorCategoryRouting
	case errors.Is(err, errspkg.ErrInvalidArgument):
		return ErrorCategoryValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	}
	return ErrorCategoryListener
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = lw.filled
	metrics.AverageNs = sum / int64(len(samples))
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
