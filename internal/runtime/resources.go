package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	metricCPUSeconds = "/sched/cpu:seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceSampler reads process-wide CPU, heap and goroutine figures for the
// listener statistics. Samples are rate limited so busy listeners do not pay
// for a runtime/metrics read on every delivery.
type resourceSampler struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	numCPU         float64
	minInterval    time.Duration
	lastCPUSeconds float64
	lastSample     time.Time
	last           ResourceUsage
	now            func() time.Time
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU:      float64(runtime.NumCPU()),
		minInterval: 250 * time.Millisecond,
		now:         time.Now,
	}
}

func (r *resourceSampler) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.lastSample.IsZero() && now.Sub(r.lastSample) < r.minInterval {
		return r.last
	}

	metrics.Read(r.samples)

	var usage ResourceUsage
	cpu := r.samples[0].Value
	if cpu.Kind() == metrics.KindFloat64 {
		seconds := cpu.Float64()
		if !r.lastSample.IsZero() && r.numCPU > 0 {
			wall := now.Sub(r.lastSample).Seconds()
			if wall > 0 {
				usage.CPUPercent = (seconds - r.lastCPUSeconds) / wall / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = seconds
	}
	if heap := r.samples[1].Value; heap.Kind() == metrics.KindUint64 {
		usage.HeapBytes = heap.Uint64()
	}
	if g := r.samples[2].Value; g.Kind() == metrics.KindUint64 {
		usage.Goroutines = int(g.Uint64())
	} else {
		usage.Goroutines = runtime.NumGoroutine()
	}

	r.lastSample = now
	r.last = usage
	return usage
}
