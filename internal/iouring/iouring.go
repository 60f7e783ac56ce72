// Package iouring is the linux completion backend: a thin adapter from the
// op.Opcode catalog onto github.com/pawelgaczynski/giouring's liburing
// binding. The driver package owns admission and token bookkeeping; this
// package only builds native SQEs and turns CQEs back into (token, n, err).
package iouring

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/go-completio/completio/buf"
	"github.com/go-completio/completio/op"
)

// timeoutToken is reserved for the internal timeout SQE Backend inserts to
// bound a SubmitWait call, and for async-cancel SQEs; it is never surfaced to
// the driver's onComplete callback.
const timeoutToken = ^uint64(0)

// Backend implements the driver package's backend interface over a single
// io_uring instance.
type Backend struct {
	mu   sync.Mutex
	ring *giouring.Ring

	// pending holds state a CQE alone can't reconstruct: the peer-address
	// buffer for Accept/RecvFrom, and the iovec/msghdr storage that must
	// outlive the kernel's view of the submission.
	pending map[uint64]*submission
}

type submission struct {
	opcode op.Opcode
	iovecs []unix.Iovec
	msg    *unix.Msghdr
	sa     *unix.RawSockaddrAny
}

// New creates an io_uring instance sized for entries in-flight operations.
func New(entries uint32) (*Backend, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("iouring: create ring: %w", err)
	}
	return &Backend{ring: ring, pending: make(map[uint64]*submission)}, nil
}

// Attach is advisory on io_uring: any attached fd may be referenced by any
// op submitted on this ring, so there is nothing to register here.
func (b *Backend) Attach(fd uintptr) error { return nil }

func (b *Backend) RawFD() uintptr { return uintptr(b.ring.Fd()) }

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.QueueExit()
	return nil
}

// Submit builds a native SQE for opcode and tags it with token as user data.
func (b *Backend) Submit(token uint64, opcode op.Opcode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sqe := b.ring.GetSQE()
	if sqe == nil {
		if _, err := b.ring.Submit(); err != nil {
			return fmt.Errorf("iouring: submit to free sqe: %w", err)
		}
		sqe = b.ring.GetSQE()
		if sqe == nil {
			return fmt.Errorf("iouring: submission queue exhausted")
		}
	}

	sub := &submission{opcode: opcode}
	if err := b.prepare(sqe, opcode, sub); err != nil {
		return err
	}
	sqe.UserData = token
	b.pending[token] = sub
	return nil
}

func (b *Backend) prepare(sqe *giouring.SubmissionQueueEntry, opcode op.Opcode, sub *submission) error {
	switch o := opcode.(type) {
	case *op.ReadAt:
		sqe.PrepareRead(int(o.Fd()), o.Buffer().Uninit(), uint64(o.Offset()))
	case *op.WriteAt:
		sqe.PrepareWrite(int(o.Fd()), o.Buffer().Bytes(), uint64(o.Offset()))
	case *op.Sync:
		flags := uint32(0)
		if o.Datasync {
			flags = giouring.FsyncDataSync
		}
		sqe.PrepareFsync(int(o.Fd()), flags)
	case *op.Accept:
		sub.sa = &unix.RawSockaddrAny{}
		sqe.PrepareAccept(int(o.Fd()), uintptr(unsafe.Pointer(sub.sa)), 0, 0)
	case *op.Connect:
		sa, salen, err := sockaddr(o.Addr())
		if err != nil {
			return err
		}
		sub.sa = sa
		sqe.PrepareConnect(int(o.Fd()), uintptr(unsafe.Pointer(sa)), salen)
	case *op.Recv:
		sqe.PrepareRecv(int(o.Fd()), o.Buffer().Uninit(), 0)
	case *op.Send:
		sqe.PrepareSend(int(o.Fd()), o.Buffer().Bytes(), 0)
	case *op.RecvVectored:
		sub.iovecs = toIovecsMut(o.Buffers())
		sqe.PrepareReadv(int(o.Fd()), sub.iovecs, 0, 0)
	case *op.SendVectored:
		sub.iovecs = toIovecs(o.Buffers())
		sqe.PrepareWritev(int(o.Fd()), sub.iovecs, 0, 0)
	case *op.RecvFrom:
		sub.sa = &unix.RawSockaddrAny{}
		sub.iovecs = toIovecsMut(o.Buffers())
		sub.msg = &unix.Msghdr{
			Name:    (*byte)(unsafe.Pointer(sub.sa)),
			Namelen: uint32(unsafe.Sizeof(unix.RawSockaddrAny{})),
		}
		if len(sub.iovecs) > 0 {
			sub.msg.Iov = &sub.iovecs[0]
			sub.msg.SetIovlen(len(sub.iovecs))
		}
		sqe.PrepareRecvmsg(int(o.Fd()), sub.msg, 0)
	case *op.SendTo:
		sa, salen, err := sockaddr(o.Addr())
		if err != nil {
			return err
		}
		sub.sa = sa
		sub.iovecs = toIovecs(o.Buffers())
		sub.msg = &unix.Msghdr{
			Name:    (*byte)(unsafe.Pointer(sa)),
			Namelen: salen,
		}
		if len(sub.iovecs) > 0 {
			sub.msg.Iov = &sub.iovecs[0]
			sub.msg.SetIovlen(len(sub.iovecs))
		}
		sqe.PrepareSendmsg(int(o.Fd()), sub.msg, 0)
	case *op.Timeout:
		ts := durationToTimespec(o.Duration)
		sqe.PrepareTimeout(&ts, 0, 0)
	default:
		return fmt.Errorf("iouring: unsupported opcode %T", opcode)
	}
	return nil
}

// Cancel issues an async-cancel SQE targeting token. The cancelled op still
// completes through the normal CQE path.
func (b *Backend) Cancel(token uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sqe := b.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("iouring: submission queue exhausted for cancel")
	}
	sqe.PrepareCancel64(token, 0)
	sqe.UserData = timeoutToken
	return nil
}

// SubmitWait flushes pending SQEs and waits for completions. A non-nil
// timeout is bounded by an internally inserted Timeout SQE, filtered out of
// onComplete by its reserved token.
func (b *Backend) SubmitWait(timeout *time.Duration, onComplete func(token uint64, n int, err error)) error {
	b.mu.Lock()
	if timeout != nil && *timeout > 0 {
		if sqe := b.ring.GetSQE(); sqe != nil {
			ts := durationToTimespec(*timeout)
			sqe.PrepareTimeout(&ts, 0, 0)
			sqe.UserData = timeoutToken
		}
	}

	var (
		cqe *giouring.CompletionQueueEntry
		err error
	)
	switch {
	case timeout != nil && *timeout == 0:
		_, subErr := b.ring.Submit()
		b.mu.Unlock()
		if subErr != nil {
			return fmt.Errorf("iouring: submit: %w", subErr)
		}
		return b.drainReady(onComplete)
	default:
		cqe, err = b.ring.SubmitAndWaitCQE(1)
	}
	if err != nil {
		b.mu.Unlock()
		if err == syscall.EAGAIN || err == syscall.EINTR {
			return nil
		}
		return fmt.Errorf("iouring: submit_and_wait: %w", err)
	}
	b.handleCQELocked(cqe, onComplete)
	b.ring.CQAdvance(1)
	b.mu.Unlock()
	return b.drainReady(onComplete)
}

// drainReady harvests every completion already sitting in the CQ without
// blocking further.
func (b *Backend) drainReady(onComplete func(token uint64, n int, err error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		cqe, err := b.ring.PeekCQE()
		if err != nil || cqe == nil {
			return nil
		}
		b.handleCQELocked(cqe, onComplete)
		b.ring.CQAdvance(1)
	}
}

func (b *Backend) handleCQELocked(cqe *giouring.CompletionQueueEntry, onComplete func(token uint64, n int, err error)) {
	token := cqe.UserData
	if token == timeoutToken {
		return
	}
	sub, ok := b.pending[token]
	if !ok {
		return
	}
	delete(b.pending, token)

	res := cqe.Res
	if res < 0 {
		onComplete(token, 0, syscall.Errno(-res))
		return
	}

	if acc, isAccept := sub.opcode.(*op.Accept); isAccept {
		setPeerAddrFromRaw(acc, sub.sa)
	}
	if rf, isRecvFrom := sub.opcode.(*op.RecvFrom); isRecvFrom {
		setRecvFromPeerAddr(rf, sub.sa)
	}
	onComplete(token, int(res), nil)
}

func durationToTimespec(d time.Duration) unix.Timespec {
	return unix.NsecToTimespec(d.Nanoseconds())
}

func toIovecs(v *buf.Vector) []unix.Iovec {
	views := v.Views()
	iov := make([]unix.Iovec, len(views))
	for i, view := range views {
		b := view.Bytes()
		if len(b) == 0 {
			continue
		}
		iov[i].Base = &b[0]
		iov[i].SetLen(len(b))
	}
	return iov
}

func toIovecsMut(v *buf.MutVector) []unix.Iovec {
	views := v.Views()
	iov := make([]unix.Iovec, len(views))
	for i, view := range views {
		b := view.Uninit()
		if len(b) == 0 {
			continue
		}
		iov[i].Base = &b[0]
		iov[i].SetLen(len(b))
	}
	return iov
}

func sockaddr(addr net.Addr) (*unix.RawSockaddrAny, uint32, error) {
	sa, err := encodeSockaddr(addr)
	if err != nil {
		return nil, 0, err
	}
	return sa, uint32(unsafe.Sizeof(unix.RawSockaddrAny{})), nil
}
