package metrics

import (
	"fmt"
	"testing"

	"github.com/go-completio/completio/op"
)

func TestObserveSubmitAndCompleteCounters(t *testing.T) {
	m := New()
	m.ObserveSubmit(op.CodeReadAt)
	m.ObserveComplete(op.CodeReadAt, 128, 5_000, nil)

	snap := m.Snapshot()
	if snap.Submitted[op.CodeReadAt] != 1 {
		t.Fatalf("Submitted[ReadAt] = %d, want 1", snap.Submitted[op.CodeReadAt])
	}
	if snap.Completed[op.CodeReadAt] != 1 {
		t.Fatalf("Completed[ReadAt] = %d, want 1", snap.Completed[op.CodeReadAt])
	}
	if snap.BytesTransferred != 128 {
		t.Fatalf("BytesTransferred = %d, want 128", snap.BytesTransferred)
	}
	if snap.TotalOps != 1 {
		t.Fatalf("TotalOps = %d, want 1", snap.TotalOps)
	}
}

func TestObserveCompleteWithErrorIncrementsErrored(t *testing.T) {
	m := New()
	m.ObserveComplete(op.CodeWriteAt, 0, 1_000, fmt.Errorf("boom"))

	snap := m.Snapshot()
	if snap.Errored[op.CodeWriteAt] != 1 {
		t.Fatalf("Errored[WriteAt] = %d, want 1", snap.Errored[op.CodeWriteAt])
	}
	if snap.BytesTransferred != 0 {
		t.Fatalf("BytesTransferred = %d, want 0 on an errored completion", snap.BytesTransferred)
	}
}

func TestObserveCancelAndQueueFullReject(t *testing.T) {
	m := New()
	m.ObserveCancel(op.CodeSend)
	m.ObserveQueueFullReject(op.CodeSend)

	snap := m.Snapshot()
	if snap.Cancelled[op.CodeSend] != 1 {
		t.Fatalf("Cancelled[Send] = %d, want 1", snap.Cancelled[op.CodeSend])
	}
	if snap.Rejected[op.CodeSend] != 1 {
		t.Fatalf("Rejected[Send] = %d, want 1", snap.Rejected[op.CodeSend])
	}
}

func TestObserveQueueDepthTracksMaxAndAverage(t *testing.T) {
	m := New()
	m.ObserveQueueDepth(4)
	m.ObserveQueueDepth(10)
	m.ObserveQueueDepth(2)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 10 {
		t.Fatalf("MaxQueueDepth = %d, want 10", snap.MaxQueueDepth)
	}
	wantAvg := float64(4+10+2) / 3
	if snap.AvgQueueDepth != wantAvg {
		t.Fatalf("AvgQueueDepth = %v, want %v", snap.AvgQueueDepth, wantAvg)
	}
}

func TestPercentileMonotonicWithUniformLatencies(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		m.ObserveComplete(op.CodeReadAt, 1, 50_000, nil) // all land in the 100us bucket
	}
	snap := m.Snapshot()
	if snap.LatencyP50Ns == 0 {
		t.Fatal("LatencyP50Ns = 0, want a nonzero estimate for 100 uniform samples")
	}
	if snap.LatencyP50Ns > snap.LatencyP99Ns {
		t.Fatalf("LatencyP50Ns (%d) > LatencyP99Ns (%d)", snap.LatencyP50Ns, snap.LatencyP99Ns)
	}
	if snap.LatencyP999Ns < snap.LatencyP99Ns {
		t.Fatalf("LatencyP999Ns (%d) < LatencyP99Ns (%d)", snap.LatencyP999Ns, snap.LatencyP99Ns)
	}
}

func TestPercentileWithNoSamplesIsZero(t *testing.T) {
	m := New()
	snap := m.Snapshot()
	if snap.LatencyP50Ns != 0 || snap.LatencyP99Ns != 0 {
		t.Fatal("expected zero percentiles with no recorded samples")
	}
}
