package driver

// Entry is a completed operation: the caller-supplied token plus either a
// non-negative byte count or a structured error. It is the one thing a
// backend (native completion queue or readiness bridge) ever hands back to
// the caller.
type Entry struct {
	token  uint64
	n      int
	err    error
}

// Token returns the user-defined data passed to Operation/OpObject at push
// time.
func (e Entry) Token() uint64 { return e.token }

// Result returns the operation's outcome: a non-negative byte count, or an
// error (which may be a *Error with a Cancelled/TimedOut/OS code).
func (e Entry) Result() (int, error) { return e.n, e.err }
