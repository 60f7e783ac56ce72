// Package driver implements the completion-based I/O driver core: a single
// Driver contract unifying io_uring, Windows IOCP, and a goroutine-per-op
// readiness bridge behind one submission/completion API. Callers describe
// work as op.Opcode values, push them with a caller-chosen token, and later
// observe completions as Entry values carrying that same token back.
package driver

import (
	"time"

	"github.com/go-completio/completio/op"
)

// Driver is a single attached completion queue. It is a single-threaded,
// non-Send owner of its in-flight table and backlog: every method assumes
// exclusive access and none of them lock. A process hosting several drivers
// (one per executor thread, say) gets independence between them for free,
// but a single Driver must only ever be driven from one goroutine at a time
// — the caller provides that exclusion, the same way the teacher's queue
// runner pins itself to one OS thread instead of synchronizing internally.
type Driver struct {
	cfg Config
	be  backend

	capacity  uint32
	inFlight  map[uint64]*opRecord
	backlog   *Queue
	immediate []uint64
	closed    bool

	observer Observer
	logger   Logger
}

// New constructs a Driver for the current platform: io_uring on linux,
// IOCP on windows, the goroutine-per-op readiness bridge elsewhere. Construction fails
// only if the platform backend itself fails to initialize (e.g. io_uring
// unavailable in this kernel/container).
func New(cfg Config) (*Driver, error) {
	be, err := newBackend(cfg)
	if err != nil {
		return nil, NewError("new", CodeOS, err.Error())
	}
	d := &Driver{
		cfg:      cfg,
		be:       be,
		capacity: cfg.entries(),
		inFlight: make(map[uint64]*opRecord, cfg.entries()),
		backlog:  NewQueue(),
		observer: cfg.observer(),
		logger:   cfg.logger(),
	}
	return d, nil
}

// Attach binds fd to the driver. On completion-port platforms (IOCP) an fd
// may only ever be attached to one driver; on io_uring and the readiness
// bridge, attach is advisory bookkeeping and multiple fds may be attached
// freely.
func (d *Driver) Attach(fd uintptr) error {
	if err := d.be.Attach(fd); err != nil {
		return NewError("attach", CodeInvalidAttach, err.Error())
	}
	return nil
}

// CapacityLeft returns how many more operations may be accepted by
// TryPush/TryPushDyn before the submission ring is full. It does not
// account for ops still waiting in a backlog pushed via PushQueue.
func (d *Driver) CapacityLeft() int {
	return int(d.capacity) - len(d.inFlight)
}

// RawFD returns the backend's own descriptor, e.g. for external
// multiplexing alongside other event sources.
func (d *Driver) RawFD() uintptr {
	return d.be.RawFD()
}

// Close releases the backend's resources. Any operations still in flight
// are abandoned; their completions, if the kernel ever delivers them, are
// discarded.
func (d *Driver) Close() error {
	d.closed = true
	return d.be.Close()
}

// TryPush accepts op into the submission ring if capacity allows, returning
// ok=false and the operation unchanged if the ring is full. O is a
// compile-time convenience over TryPushDyn; callers working with a
// heterogeneous set of opcodes should use TryPushDyn directly.
func TryPush[O op.Opcode](d *Driver, operation Operation[O]) (ok bool, rejected Operation[O]) {
	pushed, rej := d.TryPushDyn(OpObject{Token: operation.Token, Op: operation.Op})
	if pushed {
		return true, Operation[O]{}
	}
	return false, Operation[O]{Token: rej.Token, Op: operation.Op}
}

// TryPushDyn is the type-erased form of TryPush, used directly by callers
// holding a heterogeneous op.Opcode and by PushQueue's backlog admission.
func (d *Driver) TryPushDyn(o OpObject) (ok bool, rejected OpObject) {
	if len(d.inFlight) >= int(d.capacity) {
		d.observer.ObserveQueueFullReject(o.Op.Code())
		return false, o
	}
	d.admit(o)
	return true, OpObject{}
}

// PushQueue enqueues every operation in q into the driver's backlog, then
// admits as many as current capacity allows. Ops left over stay queued and
// are admitted automatically as SubmitAndWaitCompleted frees capacity.
func (d *Driver) PushQueue(q *Queue) {
	for {
		o, ok := q.Pop()
		if !ok {
			break
		}
		d.backlog.Push(o)
	}
	d.drainBacklog()
}

// admit submits o immediately. A synchronous submit failure does not leave
// o lost: it stays in inFlight as an already-completed record and is
// reported on the next SubmitAndWaitCompleted call via drainImmediate,
// preserving the exactly-once completion guarantee without going anywhere
// near the backend's wait call.
func (d *Driver) admit(o OpObject) {
	rec := &opRecord{token: o.Token, opcode: o.Op, state: stateQueued, submittedAt: time.Now()}
	d.inFlight[o.Token] = rec
	if err := d.be.Submit(o.Token, o.Op); err != nil {
		rec.state = stateCompleted
		rec.err = err
		d.immediate = append(d.immediate, o.Token)
		d.logger.Warn("submit failed", "token", o.Token, "code", o.Op.Code().String(), "err", err)
		return
	}
	// The backend has read whatever pointers it needs by the time Submit
	// returns (SQE preparation, or the poller's own syscall); from here until
	// complete clears it, the op's buffer(s) must not move or be reused.
	if s, ok := o.Op.(op.Stabilizer); ok {
		s.MarkStable()
	}
	rec.state = stateSubmitted
	d.observer.ObserveSubmit(o.Op.Code())
}

// complete finalizes rec with the given result, running Adjust and removing
// it from inFlight. A cancellation that raced a zero-byte, error-free
// completion is reported as cancelled; a cancellation that raced a partial
// transfer keeps the transfer's own result, since bytes already delivered
// before the cancel took effect are not rolled back. A genuinely in-flight
// cancellation or a Timeout op's natural elapse is recognized from the
// backend's own error value (classifyBackendError, one implementation per
// platform file) and remapped from a bare errno/sentinel to a CodeCancelled/
// CodeTimedOut Error.
func (d *Driver) complete(rec *opRecord, n int, opErr error) {
	if s, ok := rec.opcode.(op.Stabilizer); ok {
		s.ClearStable()
	}
	rec.state = stateCompleted
	rec.n, rec.err = n, opErr
	switch {
	case rec.cancelled && opErr == nil && n == 0:
		rec.err = NewTokenError("complete", rec.token, CodeCancelled, "operation cancelled")
	case opErr != nil:
		if code := classifyBackendError(rec.opcode, opErr); code != "" {
			rec.err = NewTokenError("complete", rec.token, code, opErr.Error())
		}
	}
	rec.opcode.Adjust(rec.n, rec.err)
	rec.state = stateReported
	delete(d.inFlight, rec.token)
}

// drainImmediate reports every op that failed synchronously during Submit,
// appending each to sink exactly once.
func (d *Driver) drainImmediate(sink *[]Entry) {
	if len(d.immediate) == 0 {
		return
	}
	for _, token := range d.immediate {
		rec, ok := d.inFlight[token]
		if !ok {
			continue
		}
		err := rec.err
		d.complete(rec, 0, err)
		d.observer.ObserveComplete(rec.opcode.Code(), rec.n, 0, rec.err)
		*sink = append(*sink, Entry{token: rec.token, n: rec.n, err: rec.err})
	}
	d.immediate = d.immediate[:0]
}

// drainBacklog admits backlog ops while the ring has room.
func (d *Driver) drainBacklog() {
	for len(d.inFlight) < int(d.capacity) {
		o, ok := d.backlog.Pop()
		if !ok {
			return
		}
		d.admit(o)
	}
}

// TryCancel requests cancellation of an in-flight operation by token.
// Cancellation is best-effort and advisory: the op still completes exactly
// once, either with a cancelled result or whatever outcome the kernel
// delivers first. A queued-but-not-yet-submitted op (still in the backlog)
// is fast-pathed straight to reported with a cancelled result.
func (d *Driver) TryCancel(token uint64) error {
	if o, ok := d.backlog.Remove(token); ok {
		rec := &opRecord{token: o.Token, opcode: o.Op, state: stateQueued, cancelled: true, submittedAt: time.Now()}
		d.inFlight[o.Token] = rec
		d.immediate = append(d.immediate, o.Token)
		d.observer.ObserveCancel(o.Op.Code())
		return nil
	}

	rec, ok := d.inFlight[token]
	if !ok {
		return NewTokenError("try_cancel", token, CodeCancelled, "unknown or already-reported token")
	}
	rec.cancelled = true
	err := d.be.Cancel(token)
	d.observer.ObserveCancel(rec.opcode.Code())
	return err
}

// SubmitAndWaitCompleted flushes pending submissions, waits for
// completions, and appends each one to sink as an Entry. timeout nil blocks
// until at least one completion is available; a timeout of 0 returns
// immediately with whatever is already ready; a positive timeout blocks up
// to that long. Freed capacity is used to admit backlog ops pushed via
// PushQueue before returning.
func (d *Driver) SubmitAndWaitCompleted(timeout *time.Duration, sink *[]Entry) error {
	d.drainImmediate(sink)
	d.drainBacklog()

	err := d.be.SubmitWait(timeout, func(token uint64, n int, opErr error) {
		rec, ok := d.inFlight[token]
		if !ok {
			return
		}
		d.complete(rec, n, opErr)

		latency := uint64(time.Since(rec.submittedAt).Nanoseconds())
		d.observer.ObserveComplete(rec.opcode.Code(), rec.n, latency, rec.err)
		*sink = append(*sink, Entry{token: rec.token, n: rec.n, err: rec.err})
	})
	if err != nil {
		return NewError("submit_and_wait_completed", CodeOS, err.Error())
	}

	d.observer.ObserveQueueDepth(uint32(len(d.inFlight)))
	d.drainBacklog()
	return nil
}
