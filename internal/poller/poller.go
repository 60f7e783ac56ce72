//go:build !windows

// Package poller is the readiness-based fallback backend for unix platforms
// without a native completion queue (everything but linux). Rather than
// hand-roll a poll(2)/kqueue readiness state machine, it runs each
// submitted op on its own goroutine performing the equivalent blocking
// syscall: the Go runtime's netpoller already multiplexes blocking socket
// I/O across OS threads efficiently, and positional file ops (pread/pwrite/
// fsync) are cheap to run inline. This keeps the bridge small while still
// honoring the Driver contract: exactly-once completion, best-effort
// advisory cancellation.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-completio/completio/buf"
	"github.com/go-completio/completio/op"
)

type completion struct {
	token uint64
	n     int
	err   error
}

// Backend implements the driver package's backend interface as a
// goroutine-per-operation readiness bridge.
type Backend struct {
	mu      sync.Mutex
	cancels map[uint64]context.CancelFunc
	done    chan completion
	closed  bool
}

// New creates a poller backend. entries only bounds the completion channel;
// the driver's own admission ring is what actually bounds concurrency.
func New(entries uint32) (*Backend, error) {
	if entries == 0 {
		entries = 256
	}
	return &Backend{
		cancels: make(map[uint64]context.CancelFunc),
		done:    make(chan completion, entries),
	}, nil
}

// Attach is a no-op: any fd may be referenced by any op on this backend.
func (b *Backend) Attach(fd uintptr) error { return nil }

func (b *Backend) RawFD() uintptr { return 0 }

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	return nil
}

// Submit spawns a goroutine performing opcode's blocking equivalent and
// reports its outcome on the completion channel. Any buffer pointer the
// operation needs is read out via capture, synchronously, before the
// goroutine is spawned — the driver pins the op's buffer(s) as stable right
// after Submit returns, and Uninit() panics on a receive view already pinned,
// so the one legitimate read has to happen while the view is still free.
func (b *Backend) Submit(token uint64, opcode op.Opcode) error {
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("poller: backend closed")
	}
	b.cancels[token] = cancel
	b.mu.Unlock()

	bufs := capture(opcode)
	go b.run(ctx, token, opcode, bufs)
	return nil
}

func (b *Backend) run(ctx context.Context, token uint64, opcode op.Opcode, bufs capturedBuffers) {
	n, err := execute(ctx, opcode, bufs)

	b.mu.Lock()
	delete(b.cancels, token)
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.done <- completion{token: token, n: n, err: err}
}

// Cancel cancels the goroutine backing token, if it is still running. The
// op still reports a completion once its syscall unwinds (possibly the
// cancelled error, possibly a natural result that raced the cancel).
func (b *Backend) Cancel(token uint64) error {
	b.mu.Lock()
	cancel, ok := b.cancels[token]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("poller: unknown token %d", token)
	}
	cancel()
	return nil
}

// SubmitWait blocks up to timeout (nil forever, 0 returns immediately)
// draining available completions into onComplete.
func (b *Backend) SubmitWait(timeout *time.Duration, onComplete func(token uint64, n int, err error)) error {
	var after <-chan time.Time
	switch {
	case timeout == nil:
	case *timeout == 0:
		select {
		case c := <-b.done:
			onComplete(c.token, c.n, c.err)
		default:
		}
		return b.drainNonBlocking(onComplete)
	default:
		timer := time.NewTimer(*timeout)
		defer timer.Stop()
		after = timer.C
	}

	select {
	case c := <-b.done:
		onComplete(c.token, c.n, c.err)
	case <-after:
		return nil
	}
	return b.drainNonBlocking(onComplete)
}

func (b *Backend) drainNonBlocking(onComplete func(token uint64, n int, err error)) error {
	for {
		select {
		case c := <-b.done:
			onComplete(c.token, c.n, c.err)
		default:
			return nil
		}
	}
}

// capturedBuffers holds the byte slice(s) capture read out of an op's
// buffer(s) synchronously in Submit, one entry per buf.View/buf.MutView in
// declaration order. Ops with no buffer (Sync, Connect, Timeout) leave it
// empty.
type capturedBuffers struct {
	segments [][]byte
}

// capture performs the one legitimate Uninit()/Bytes() read of opcode's
// buffer(s), before the op is pinned stable. Must run synchronously in
// Submit, never from run's goroutine.
func capture(opcode op.Opcode) capturedBuffers {
	switch o := opcode.(type) {
	case *op.ReadAt:
		return capturedBuffers{segments: [][]byte{o.Buffer().Uninit()}}
	case *op.WriteAt:
		return capturedBuffers{segments: [][]byte{o.Buffer().Bytes()}}
	case *op.Recv:
		return capturedBuffers{segments: [][]byte{o.Buffer().Uninit()}}
	case *op.Send:
		return capturedBuffers{segments: [][]byte{o.Buffer().Bytes()}}
	case *op.RecvVectored:
		return capturedBuffers{segments: uninitSegments(o.Buffers().Views())}
	case *op.SendVectored:
		return capturedBuffers{segments: byteSegments(o.Buffers().Views())}
	case *op.RecvFrom:
		return capturedBuffers{segments: uninitSegments(o.Buffers().Views())}
	case *op.SendTo:
		return capturedBuffers{segments: byteSegments(o.Buffers().Views())}
	default:
		return capturedBuffers{}
	}
}

func uninitSegments(views []*buf.MutView) [][]byte {
	segs := make([][]byte, len(views))
	for i, v := range views {
		segs[i] = v.Uninit()
	}
	return segs
}

func byteSegments(views []*buf.View) [][]byte {
	segs := make([][]byte, len(views))
	for i, v := range views {
		segs[i] = v.Bytes()
	}
	return segs
}

// execute performs opcode's blocking equivalent. ctx cancellation is checked
// before a socket op's syscall is issued and during a Timeout's wait; file
// ops (ReadAt/WriteAt/Sync) and a socket syscall already blocking are not
// interrupted. Buffer access goes through bufs, captured synchronously in
// Submit, rather than back through the op — by the time execute runs, the
// op's buffer(s) are pinned stable and a second Uninit() call would panic.
func execute(ctx context.Context, opcode op.Opcode, bufs capturedBuffers) (int, error) {
	switch o := opcode.(type) {
	case *op.ReadAt:
		n, err := unix.Pread(int(o.Fd()), bufs.segments[0], o.Offset())
		if err != nil {
			return n, err
		}
		return n, nil
	case *op.WriteAt:
		return unix.Pwrite(int(o.Fd()), bufs.segments[0], o.Offset())
	case *op.Sync:
		if o.Datasync {
			return 0, unix.Fdatasync(int(o.Fd()))
		}
		return 0, unix.Fsync(int(o.Fd()))
	case *op.Accept:
		return acceptWithCancel(ctx, o)
	case *op.Connect:
		return connectWithCancel(ctx, o)
	case *op.Recv:
		return recvWithCancel(ctx, o.Fd(), bufs.segments[0])
	case *op.Send:
		return sendWithCancel(ctx, o.Fd(), bufs.segments[0])
	case *op.RecvVectored:
		return recvVectoredWithCancel(ctx, o, bufs.segments)
	case *op.SendVectored:
		return sendVectoredWithCancel(ctx, o, bufs.segments)
	case *op.RecvFrom:
		return recvFromWithCancel(ctx, o, bufs.segments)
	case *op.SendTo:
		return sendToWithCancel(ctx, o, bufs.segments)
	case *op.Timeout:
		select {
		case <-ctx.Done():
			return 0, ErrCancelled
		case <-time.After(o.Duration):
			return 0, ErrTimedOut
		}
	default:
		return 0, fmt.Errorf("poller: unsupported opcode %T", opcode)
	}
}

// ErrTimedOut is a Timeout op's natural-elapse result: a timed-out-error
// completion, distinct from a cancelled one. Exported so driver.complete can
// recognize it via errors.Is and map it to driver.CodeTimedOut.
var ErrTimedOut = fmt.Errorf("poller: timed out")

// ErrCancelled is the result of any op whose context was cancelled, whether
// caught at checkCancelled's pre-syscall check or racing a Timeout's own
// wait. Exported so driver.complete can map it to driver.CodeCancelled.
var ErrCancelled = fmt.Errorf("poller: cancelled")
