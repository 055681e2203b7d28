package qdma

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-device DMA queue statistics: descriptor and byte
// counters split by direction, queue-depth sampling, and a latency
// histogram over completion service time.
type Metrics struct {
	H2CRequests atomic.Uint64
	C2HRequests atomic.Uint64
	H2CBytes    atomic.Uint64
	C2HBytes    atomic.Uint64

	H2CErrors atomic.Uint64
	C2HErrors atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordH2C records a completed H2C request.
func (m *Metrics) RecordH2C(bytes uint64, latencyNs uint64, success bool) {
	m.H2CRequests.Add(1)
	if success {
		m.H2CBytes.Add(bytes)
	} else {
		m.H2CErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordC2H records a completed C2H request.
func (m *Metrics) RecordC2H(bytes uint64, latencyNs uint64, success bool) {
	m.C2HRequests.Add(1)
	if success {
		m.C2HBytes.Add(bytes)
	} else {
		m.C2HErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records a free-entries sample for a direction's ring.
func (m *Metrics) RecordQueueDepth(freeEntries uint32) {
	m.QueueDepthTotal.Add(uint64(freeEntries))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if freeEntries <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, freeEntries) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	H2CRequests uint64
	C2HRequests uint64
	H2CBytes    uint64
	C2HBytes    uint64
	H2CErrors   uint64
	C2HErrors   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	H2CIOPS      float64
	C2HIOPS      float64
	H2CBandwidth float64
	C2HBandwidth float64
	TotalOps     uint64
	TotalBytes   uint64
	ErrorRate    float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		H2CRequests:   m.H2CRequests.Load(),
		C2HRequests:   m.C2HRequests.Load(),
		H2CBytes:      m.H2CBytes.Load(),
		C2HBytes:      m.C2HBytes.Load(),
		H2CErrors:     m.H2CErrors.Load(),
		C2HErrors:     m.C2HErrors.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.H2CRequests + snap.C2HRequests
	snap.TotalBytes = snap.H2CBytes + snap.C2HBytes

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.H2CIOPS = float64(snap.H2CRequests) / uptimeSeconds
		snap.C2HIOPS = float64(snap.C2HRequests) / uptimeSeconds
		snap.H2CBandwidth = float64(snap.H2CBytes) / uptimeSeconds
		snap.C2HBandwidth = float64(snap.C2HBytes) / uptimeSeconds
	}

	totalErrors := snap.H2CErrors + snap.C2HErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters; useful between test scenarios.
func (m *Metrics) Reset() {
	m.H2CRequests.Store(0)
	m.C2HRequests.Store(0)
	m.H2CBytes.Store(0)
	m.C2HBytes.Store(0)
	m.H2CErrors.Store(0)
	m.C2HErrors.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection across queue direction
// events; it mirrors internal/interfaces.Observer at the public API
// boundary so callers outside the module can implement it without an
// internal import.
type Observer interface {
	ObserveEnqueue(qid uint16, isC2H bool, bytes uint64)
	ObserveComplete(qid uint16, isC2H bool, bytes uint64, latencyNs uint64, success bool)
	ObserveQueueDepth(qid uint16, isC2H bool, freeEntries uint32)
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveEnqueue(uint16, bool, uint64)                {}
func (NoOpObserver) ObserveComplete(uint16, bool, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint16, bool, uint32)             {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveEnqueue(uint16, bool, uint64) {}

func (o *MetricsObserver) ObserveComplete(_ uint16, isC2H bool, bytes uint64, latencyNs uint64, success bool) {
	if isC2H {
		o.metrics.RecordC2H(bytes, latencyNs, success)
	} else {
		o.metrics.RecordH2C(bytes, latencyNs, success)
	}
}

func (o *MetricsObserver) ObserveQueueDepth(_ uint16, _ bool, freeEntries uint32) {
	o.metrics.RecordQueueDepth(freeEntries)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
