package driver

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-completio/completio/op"
)

// fakeResult is a completion a test schedules fakeBackend to report on its
// next SubmitWait call.
type fakeResult struct {
	token uint64
	n     int
	err   error
}

// fakeBackend is a test double satisfying the backend interface without
// touching any real OS completion facility.
type fakeBackend struct {
	mu        sync.Mutex
	submitted []uint64
	cancelled []uint64
	queued    []fakeResult
	submitErr error
}

func (f *fakeBackend) Attach(fd uintptr) error { return nil }

func (f *fakeBackend) Submit(token uint64, opcode op.Opcode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, token)
	return nil
}

func (f *fakeBackend) Cancel(token uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, token)
	return nil
}

func (f *fakeBackend) SubmitWait(timeout *time.Duration, onComplete func(token uint64, n int, err error)) error {
	f.mu.Lock()
	ready := f.queued
	f.queued = nil
	f.mu.Unlock()
	for _, r := range ready {
		onComplete(r.token, r.n, r.err)
	}
	return nil
}

func (f *fakeBackend) RawFD() uintptr { return 0 }
func (f *fakeBackend) Close() error   { return nil }

func (f *fakeBackend) scheduleResult(token uint64, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, fakeResult{token: token, n: n, err: err})
}

func newTestDriver(capacity uint32) (*Driver, *fakeBackend) {
	fb := &fakeBackend{}
	d := &Driver{
		cfg:      Config{Entries: capacity},
		be:       fb,
		capacity: capacity,
		inFlight: make(map[uint64]*opRecord),
		backlog:  NewQueue(),
		observer: NoOpObserver{},
		logger:   NoOpLogger{},
	}
	return d, fb
}

func TestTryPushDynAcceptsUntilCapacity(t *testing.T) {
	d, _ := newTestDriver(2)

	ok, _ := d.TryPushDyn(NewOpObject(1, op.NewWriteAt(1, 0, []byte("a"))))
	if !ok {
		t.Fatal("expected first push to succeed")
	}
	ok, _ = d.TryPushDyn(NewOpObject(2, op.NewWriteAt(1, 0, []byte("b"))))
	if !ok {
		t.Fatal("expected second push to succeed")
	}
	ok, rejected := d.TryPushDyn(NewOpObject(3, op.NewWriteAt(1, 0, []byte("c"))))
	if ok {
		t.Fatal("expected third push to be rejected at capacity")
	}
	if rejected.Token != 3 {
		t.Fatalf("rejected.Token = %d, want 3", rejected.Token)
	}
	if got := d.CapacityLeft(); got != 0 {
		t.Fatalf("CapacityLeft() = %d, want 0", got)
	}
}

func TestSubmitAndWaitCompletedDispatchesAdjustAndEntry(t *testing.T) {
	d, fb := newTestDriver(4)

	buffer := make([]byte, 16)
	readOp := op.NewReadAt(1, 0, buffer)
	ok, _ := d.TryPushDyn(NewOpObject(42, readOp))
	if !ok {
		t.Fatal("expected push to succeed")
	}

	fb.scheduleResult(42, 10, nil)

	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	if len(sink) != 1 {
		t.Fatalf("len(sink) = %d, want 1", len(sink))
	}
	if sink[0].Token() != 42 {
		t.Fatalf("Token() = %d, want 42", sink[0].Token())
	}
	n, err := sink[0].Result()
	if err != nil || n != 10 {
		t.Fatalf("Result() = (%d, %v), want (10, nil)", n, err)
	}
	if got := len(readOp.Buffer().Initialized()); got != 10 {
		t.Fatalf("Adjust did not run: Initialized() len = %d, want 10", got)
	}
	if d.CapacityLeft() != 4 {
		t.Fatalf("CapacityLeft() = %d, want 4 after completion", d.CapacityLeft())
	}
}

func TestCancelledCompletionWithNoBytesReportsCancelled(t *testing.T) {
	d, fb := newTestDriver(4)

	ok, _ := d.TryPushDyn(NewOpObject(7, op.NewSend(1, []byte("x"))))
	if !ok {
		t.Fatal("expected push to succeed")
	}
	if err := d.TryCancel(7); err != nil {
		t.Fatalf("TryCancel() error = %v", err)
	}
	fb.scheduleResult(7, 0, nil)

	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	_, err := sink[0].Result()
	if !IsCode(err, CodeCancelled) {
		t.Fatalf("Result() error = %v, want CodeCancelled", err)
	}
}

func TestCancelledCompletionWithPartialBytesReportsSuccess(t *testing.T) {
	d, fb := newTestDriver(4)

	ok, _ := d.TryPushDyn(NewOpObject(8, op.NewSend(1, []byte("xyz"))))
	if !ok {
		t.Fatal("expected push to succeed")
	}
	if err := d.TryCancel(8); err != nil {
		t.Fatalf("TryCancel() error = %v", err)
	}
	fb.scheduleResult(8, 2, nil)

	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	n, err := sink[0].Result()
	if err != nil || n != 2 {
		t.Fatalf("Result() = (%d, %v), want (2, nil) for a cancel racing a partial transfer", n, err)
	}
}

func TestPushQueueBacklogsAndDrainsOnCompletion(t *testing.T) {
	d, fb := newTestDriver(1)

	ok, _ := d.TryPushDyn(NewOpObject(1, op.NewSend(1, []byte("a"))))
	if !ok {
		t.Fatal("expected first push to succeed")
	}

	q := NewQueue()
	q.Push(NewOpObject(2, op.NewSend(1, []byte("b"))))
	d.PushQueue(q)

	if d.backlog.Len() != 1 {
		t.Fatalf("backlog.Len() = %d, want 1 (ring still full)", d.backlog.Len())
	}

	fb.scheduleResult(1, 1, nil)
	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	if d.backlog.Len() != 0 {
		t.Fatalf("backlog.Len() = %d, want 0 after draining", d.backlog.Len())
	}
	if _, ok := d.inFlight[2]; !ok {
		t.Fatal("expected backlog op to have been admitted into inFlight")
	}
}

func TestTryPushGenericWrapsTryPushDyn(t *testing.T) {
	d, fb := newTestDriver(1)

	operation := NewOperation(9, op.NewWriteAt(1, 0, []byte("z")))
	ok, _ := TryPush(d, operation)
	if !ok {
		t.Fatal("expected generic TryPush to succeed")
	}
	if len(fb.submitted) != 1 || fb.submitted[0] != 9 {
		t.Fatalf("submitted = %v, want [9]", fb.submitted)
	}

	ok, rejected := TryPush(d, NewOperation(uint64(10), op.NewWriteAt(1, 0, []byte("y"))))
	if ok {
		t.Fatal("expected second push to be rejected at capacity 1")
	}
	if rejected.Token != 10 {
		t.Fatalf("rejected.Token = %d, want 10", rejected.Token)
	}
}

func TestSubmitFailureRecordsError(t *testing.T) {
	d, fb := newTestDriver(1)
	fb.submitErr = fmt.Errorf("boom")

	ok, _ := d.TryPushDyn(NewOpObject(1, op.NewSync(1, false)))
	if !ok {
		t.Fatal("TryPushDyn should still accept the op into the ring even if the native submit fails")
	}
	rec := d.inFlight[1]
	if rec.err == nil {
		t.Fatal("expected submit error to be recorded on the opRecord")
	}
}

func TestTryCancelBacklogedOpReportsCancelledWithoutAdmitting(t *testing.T) {
	d, fb := newTestDriver(1)

	ok, _ := d.TryPushDyn(NewOpObject(1, op.NewSend(1, []byte("a"))))
	if !ok {
		t.Fatal("expected first push to succeed")
	}
	q := NewQueue()
	q.Push(NewOpObject(2, op.NewSend(1, []byte("b"))))
	d.PushQueue(q)
	if d.backlog.Len() != 1 {
		t.Fatalf("backlog.Len() = %d, want 1", d.backlog.Len())
	}

	if err := d.TryCancel(2); err != nil {
		t.Fatalf("TryCancel() error = %v", err)
	}
	if d.backlog.Len() != 0 {
		t.Fatal("expected the cancelled op to be removed from the backlog")
	}
	for _, token := range fb.submitted {
		if token == 2 {
			t.Fatal("cancelled backlog op should never reach the backend's Submit")
		}
	}

	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	var found bool
	for _, e := range sink {
		if e.Token() != 2 {
			continue
		}
		found = true
		if _, err := e.Result(); !IsCode(err, CodeCancelled) {
			t.Fatalf("Result() error = %v, want CodeCancelled", err)
		}
	}
	if !found {
		t.Fatal("expected an entry for the cancelled backlog token")
	}
}

func TestSubmitFailureIsReportedOnNextWait(t *testing.T) {
	d, fb := newTestDriver(1)
	fb.submitErr = fmt.Errorf("boom")

	ok, _ := d.TryPushDyn(NewOpObject(1, op.NewSync(1, false)))
	if !ok {
		t.Fatal("expected push to be accepted despite the submit failure")
	}
	if got := d.CapacityLeft(); got != 0 {
		t.Fatalf("CapacityLeft() = %d, want 0 (slot still held pending report)", got)
	}

	var sink []Entry
	if err := d.SubmitAndWaitCompleted(nil, &sink); err != nil {
		t.Fatalf("SubmitAndWaitCompleted() error = %v", err)
	}
	if len(sink) != 1 {
		t.Fatalf("len(sink) = %d, want 1", len(sink))
	}
	if sink[0].Token() != 1 {
		t.Fatalf("Token() = %d, want 1", sink[0].Token())
	}
	if _, err := sink[0].Result(); err == nil {
		t.Fatal("expected the synthetic completion to carry the submit error")
	}
	if _, ok := d.inFlight[1]; ok {
		t.Fatal("expected the failed op to be removed from inFlight after being reported")
	}
	if got := d.CapacityLeft(); got != 1 {
		t.Fatalf("CapacityLeft() = %d, want 1 after the failed op is reported", got)
	}
}
