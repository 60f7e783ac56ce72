// Package metrics provides the built-in driver.Observer implementation:
// atomic per-opcode counters plus a latency histogram, snapshot-able for
// reporting without blocking the hot path.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/go-completio/completio/op"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8
const numCodes = int(op.CodeTimeout) + 1

// Metrics tracks submission, completion, cancellation, and queue-depth
// counters for a driver.Driver, broken down by opcode.
type Metrics struct {
	Submitted [numCodes]atomic.Uint64
	Completed [numCodes]atomic.Uint64
	Errored   [numCodes]atomic.Uint64
	Cancelled [numCodes]atomic.Uint64
	Rejected  [numCodes]atomic.Uint64

	BytesTransferred atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// New creates a new Metrics instance with StartTime set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) ObserveSubmit(code op.Code) {
	m.Submitted[code].Add(1)
}

func (m *Metrics) ObserveComplete(code op.Code, n int, latencyNs uint64, err error) {
	m.Completed[code].Add(1)
	if err != nil {
		m.Errored[code].Add(1)
	} else if n > 0 {
		m.BytesTransferred.Add(uint64(n))
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) ObserveCancel(code op.Code) {
	m.Cancelled[code].Add(1)
}

func (m *Metrics) ObserveQueueFullReject(code op.Code) {
	m.Rejected[code].Add(1)
}

func (m *Metrics) ObserveQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
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

// Snapshot is a point-in-time view of Metrics, safe to read without racing
// further updates.
type Snapshot struct {
	Submitted [numCodes]uint64
	Completed [numCodes]uint64
	Errored   [numCodes]uint64
	Cancelled [numCodes]uint64
	Rejected  [numCodes]uint64

	BytesTransferred uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps uint64
}

// Snapshot captures a point-in-time view of m.
func (m *Metrics) Snapshot() Snapshot {
	var snap Snapshot
	var totalOps uint64
	for i := 0; i < numCodes; i++ {
		snap.Submitted[i] = m.Submitted[i].Load()
		snap.Completed[i] = m.Completed[i].Load()
		snap.Errored[i] = m.Errored[i].Load()
		snap.Cancelled[i] = m.Cancelled[i].Load()
		snap.Rejected[i] = m.Rejected[i].Load()
		totalOps += snap.Completed[i]
	}
	snap.TotalOps = totalOps
	snap.BytesTransferred = m.BytesTransferred.Load()
	snap.MaxQueueDepth = m.MaxQueueDepth.Load()

	if c := m.QueueDepthCount.Load(); c > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(c)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}
	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
		snap.LatencyP999Ns = m.percentile(0.999)
	}
	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0) by
// linear interpolation between histogram buckets.
func (m *Metrics) percentile(percentile float64) uint64 {
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
