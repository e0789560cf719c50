package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/kernelbus/internal/runtime/errors"
	"github.com/drblury/kernelbus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/kernelbus/internal/runtime/metadata"
)

func TestListenerStatsCollectsDeliveryMetrics(t *testing.T) {
	stats := newListenerStats("svc.B", nil)

	md := metadatapkg.New(metadatapkg.KeyEnqueuedAt, time.Now().Add(-1500*time.Millisecond).Format(time.RFC3339Nano))
	inv := stats.onDeliveryStart(md)
	if got := stats.Snapshot().Backlog.InFlight; got != 1 {
		t.Fatalf("expected one delivery in flight, got %d", got)
	}
	stats.onDeliveryFinish(inv, 5*time.Millisecond, errors.New("disk full"), nil)

	snap := stats.Snapshot()
	if snap.Address != "svc.B" {
		t.Fatalf("unexpected address %q", snap.Address)
	}
	if snap.DeliveriesProcessed != 1 || snap.DeliveriesFailed != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.Backlog.InFlight != 0 || snap.Backlog.MaxInFlight != 1 {
		t.Fatalf("unexpected backlog %+v", snap.Backlog)
	}
	if snap.Backlog.EstimatedLagMillis < 1400 {
		t.Fatalf("expected lag to be recorded, got %d", snap.Backlog.EstimatedLagMillis)
	}
	if snap.Errors.Listener != 1 || snap.Errors.LastError != "disk full" {
		t.Fatalf("unexpected error breakdown %+v", snap.Errors)
	}
	if snap.Latency.SampleSize != 1 || snap.Latency.LastNs != int64(5*time.Millisecond) {
		t.Fatalf("unexpected latency %+v", snap.Latency)
	}
	if snap.Throughput.TotalMessages != 1 || snap.Throughput.MessagesInWindow != 1 {
		t.Fatalf("unexpected throughput %+v", snap.Throughput)
	}
	if snap.LastProcessedAt.IsZero() {
		t.Fatal("expected last processed time")
	}
}

func TestListenerStatsWithoutEnqueueTime(t *testing.T) {
	stats := newListenerStats("svc.B", newResourceSampler())
	stats.onDeliveryFinish(stats.onDeliveryStart(nil), time.Millisecond, nil, nil)

	snap := stats.Snapshot()
	if snap.Backlog.EstimatedLagMillis != -1 {
		t.Fatalf("lag must stay unknown, got %d", snap.Backlog.EstimatedLagMillis)
	}
	if snap.DeliveriesFailed != 0 || snap.Errors != (ErrorBreakdown{}) {
		t.Fatalf("unexpected failure accounting %+v", snap)
	}
	if snap.Resource.Goroutines == 0 {
		t.Fatal("expected resource usage to be sampled")
	}
}

func TestListenerStatsMarshalJSON(t *testing.T) {
	stats := newListenerStats("svc.B", nil)
	stats.onDeliveryFinish(stats.onDeliveryStart(nil), time.Millisecond, nil, nil)

	data, err := jsoncodec.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded StatsSnapshot
	if err := jsoncodec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Address != "svc.B" || decoded.DeliveriesProcessed != 1 {
		t.Fatalf("unexpected snapshot %+v", decoded)
	}
	if !strings.Contains(string(data), `"deliveries_processed":1`) {
		t.Fatalf("unexpected json %s", data)
	}
}

func TestDefaultErrorClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{name: "nil", err: nil, want: ErrorCategoryNone},
		{name: "panic", err: fmt.Errorf("wrapped: %w", middleware.RecoveredPanicError{V: "boom"}), want: ErrorCategoryPanic},
		{name: "routing", err: errspkg.NewAddressError("deliver", "svc.B", errspkg.ErrUnknownAddress), want: ErrorCategoryRouting},
		{name: "validation", err: errspkg.ErrUnknownBodyKind, want: ErrorCategoryValidation},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorCategoryTimeout},
		{name: "cancelled", err: fmt.Errorf("listener: %w", context.Canceled), want: ErrorCategoryTimeout},
		{name: "listener", err: errors.New("disk full"), want: ErrorCategoryListener},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultErrorClassifier(tt.err); got != tt.want {
				t.Fatalf("defaultErrorClassifier(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorBreakdownRecord(t *testing.T) {
	var e ErrorBreakdown
	e.Record(ErrorCategoryNone, nil)
	e.Record(ErrorCategoryTimeout, context.DeadlineExceeded)
	e.Record(ErrorCategoryNone, errors.New("unclassified"))
	e.Record("custom", errors.New("custom category"))

	want := ErrorBreakdown{Timeout: 1, Listener: 2, LastError: "custom category"}
	if e != want {
		t.Fatalf("got %+v, want %+v", e, want)
	}
}

func TestCustomErrorClassifier(t *testing.T) {
	stats := newListenerStats("svc.B", nil)
	classifier := func(error) ErrorCategory { return ErrorCategoryValidation }
	stats.onDeliveryFinish(stats.onDeliveryStart(nil), time.Millisecond, errors.New("x"), classifier)

	if got := stats.Snapshot().Errors.Validation; got != 1 {
		t.Fatalf("expected custom classifier to be used, got %d validation errors", got)
	}
}

func TestLatencyWindowPercentiles(t *testing.T) {
	lw := newLatencyWindow(4)
	if snap := lw.Snapshot(); snap.SampleSize != 0 || snap.AverageNs != 0 {
		t.Fatalf("empty window must report zeros, got %+v", snap)
	}

	for _, ms := range []int{10, 20, 30, 40, 50} {
		lw.Add(time.Duration(ms) * time.Millisecond)
	}
	snap := lw.Snapshot()
	if snap.SampleSize != 4 {
		t.Fatalf("window must hold 4 samples, got %d", snap.SampleSize)
	}
	// The oldest sample (10ms) was evicted.
	if snap.AverageNs != int64(35*time.Millisecond) {
		t.Fatalf("unexpected average %d", snap.AverageNs)
	}
	if snap.P50Ns != int64(35*time.Millisecond) {
		t.Fatalf("unexpected p50 %d", snap.P50Ns)
	}
	if snap.LastNs != int64(50*time.Millisecond) {
		t.Fatalf("unexpected last %d", snap.LastNs)
	}
}

func TestPercentileBounds(t *testing.T) {
	samples := []int64{1, 2, 3}
	if percentile(nil, 0.5) != 0 || percentile(samples, 0) != 1 || percentile(samples, 1) != 3 {
		t.Fatal("unexpected percentile bounds")
	}
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tw.AddAndSnapshot(start)
	tw.AddAndSnapshot(start.Add(500 * time.Millisecond))
	snap := tw.AddAndSnapshot(start.Add(1200 * time.Millisecond))

	if snap.Count != 2 {
		t.Fatalf("expected the first sample to expire, got %d samples", snap.Count)
	}
	if snap.WindowSeconds < 0.69 || snap.WindowSeconds > 0.71 {
		t.Fatalf("unexpected window %f", snap.WindowSeconds)
	}
}
