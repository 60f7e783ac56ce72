package driver

import (
	"time"

	"github.com/go-completio/completio/op"
)

// opState is an in-flight operation's position in its lifecycle. States are
// linear: queued -> submitted -> completed -> reported, with no regression.
// Cancellation before submission fast-paths queued -> reported directly.
type opState uint8

const (
	stateQueued opState = iota
	stateSubmitted
	stateCompleted
	stateReported
)

// opRecord is the driver's bookkeeping for one accepted operation: the
// backend only ever sees the embedded op.Opcode and token; state, timing,
// and result live here at the driver level.
type opRecord struct {
	token       uint64
	opcode      op.Opcode
	state       opState
	submittedAt time.Time
	n           int
	err         error
	cancelled   bool
}

// backend is the platform-specific half of a Driver: native io_uring,
// Windows IOCP, or the unix readiness-based poller bridge. The driver owns
// admission (the bounded SQ, the token table, op.Opcode.Adjust dispatch);
// a backend only turns an op.Opcode into a native submission and reports
// raw (token, n, err) completions back through onComplete.
type backend interface {
	// Attach binds fd to this backend. Platforms with exclusive-attach
	// completion ports (IOCP) reject a second attach of the same fd.
	Attach(fd uintptr) error

	// Submit builds and issues a native submission for opcode, tagged with
	// token. It must not block; actual waiting happens in SubmitWait.
	Submit(token uint64, opcode op.Opcode) error

	// Cancel best-effort cancels an already-submitted native operation by
	// token. It is advisory: the op still completes exactly once, either
	// with a cancelled result or its natural outcome, whichever the kernel
	// wins.
	Cancel(token uint64) error

	// SubmitWait flushes any pending native submissions and waits for
	// completions, invoking onComplete once per ready completion. timeout
	// nil blocks forever; timeout pointing at 0 returns immediately after
	// draining whatever is already ready.
	SubmitWait(timeout *time.Duration, onComplete func(token uint64, n int, err error)) error

	// RawFD returns the backend's own descriptor (io_uring fd, IOCP
	// handle), for callers that want to multiplex it externally. The
	// readiness bridge has no descriptor of its own and returns 0.
	RawFD() uintptr

	// Close releases backend resources. The driver calls this once, from
	// Driver.Close.
	Close() error
}
