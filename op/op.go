// Package op implements the opcode catalog: the semantic operations a caller
// submits to a driver.Driver. Each type carries the kernel-facing parameters a
// backend needs (fd, offset, buffer view, address) plus a post-completion
// Adjust hook. The op itself performs nothing — it is inert data until a
// driver.Driver submits it.
package op

import (
	"net"
	"time"

	"github.com/go-completio/completio/buf"
)

// Code tags the concrete opcode variant. Backends type-switch on the concrete
// Go type rather than branch on Code, but Code is kept for diagnostics and for
// callers that want to log/route without a type switch of their own.
type Code int

const (
	CodeReadAt Code = iota
	CodeWriteAt
	CodeSync
	CodeAccept
	CodeConnect
	CodeRecv
	CodeSend
	CodeRecvVectored
	CodeSendVectored
	CodeRecvFrom
	CodeSendTo
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeReadAt:
		return "read_at"
	case CodeWriteAt:
		return "write_at"
	case CodeSync:
		return "sync"
	case CodeAccept:
		return "accept"
	case CodeConnect:
		return "connect"
	case CodeRecv:
		return "recv"
	case CodeSend:
		return "send"
	case CodeRecvVectored:
		return "recv_vectored"
	case CodeSendVectored:
		return "send_vectored"
	case CodeRecvFrom:
		return "recv_from"
	case CodeSendTo:
		return "send_to"
	case CodeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Opcode is the marker interface every operation variant implements. Backends
// recover the concrete type with a type switch to build their native
// submission record; see internal/iouring, internal/iocp, internal/poller.
type Opcode interface {
	// Code identifies the concrete variant.
	Code() Code

	// Adjust runs once, after the driver observes this op's completion. It
	// updates the op's buffer's initialized length (receive paths). Peer
	// addresses (accept, recv_from) are not decoded here: the backend records
	// them through SetPeerAddr before it reports the completion.
	Adjust(n int, err error)
}

// Fd is the narrow accessor backends use to find an op's target descriptor,
// implemented by every variant below except Timeout, which has no descriptor.
type Fd interface {
	Fd() uintptr
}

// Stabilizer is implemented by every opcode variant that carries at least one
// buffer needing the stability pin for its in-flight window. Connect, Sync,
// and Timeout carry no buffer and so implement neither method; a driver
// checking for Stabilizer before pinning/unpinning treats their absence as a
// no-op.
type Stabilizer interface {
	// MarkStable pins the op's buffer(s) for the in-flight window. Called by
	// the driver once the backend has read their pointers at submission time.
	MarkStable()
	// ClearStable releases the pin once the op's completion is observed.
	ClearStable()
}

// sockaddrStorageSize is large enough to hold any socket address family's raw
// bytes (matches struct sockaddr_storage on every supported platform).
const sockaddrStorageSize = 128

// ReadAt reads fd at a fixed offset into buffer. Positional: does not advance
// any fd offset. A result of 0 indicates end of file; short reads are
// reported as-is.
type ReadAt struct {
	fd     uintptr
	offset int64
	buffer *buf.MutView
}

// NewReadAt constructs a ReadAt op over buffer (capacity determines how much
// may be read).
func NewReadAt(fd uintptr, offset int64, buffer []byte) *ReadAt {
	return &ReadAt{fd: fd, offset: offset, buffer: buf.NewMutView(buffer)}
}

func (o *ReadAt) Fd() uintptr       { return o.fd }
func (o *ReadAt) Offset() int64     { return o.offset }
func (o *ReadAt) Buffer() *buf.MutView { return o.buffer }
func (o *ReadAt) Code() Code        { return CodeReadAt }
func (o *ReadAt) Adjust(n int, err error) {
	if err == nil {
		o.buffer.SetInit(n)
	}
}
func (o *ReadAt) MarkStable()  { o.buffer.MarkStable() }
func (o *ReadAt) ClearStable() { o.buffer.ClearStable() }

// WriteAt writes buffer to fd at a fixed offset. Positional: does not advance
// any fd offset. Short writes are reported as-is.
type WriteAt struct {
	fd     uintptr
	offset int64
	buffer *buf.View
}

// NewWriteAt constructs a WriteAt op over buffer.
func NewWriteAt(fd uintptr, offset int64, buffer []byte) *WriteAt {
	return &WriteAt{fd: fd, offset: offset, buffer: buf.NewView(buffer)}
}

func (o *WriteAt) Fd() uintptr     { return o.fd }
func (o *WriteAt) Offset() int64   { return o.offset }
func (o *WriteAt) Buffer() *buf.View { return o.buffer }
func (o *WriteAt) Code() Code      { return CodeWriteAt }
func (o *WriteAt) Adjust(int, error) {}
func (o *WriteAt) MarkStable()  { o.buffer.MarkStable() }
func (o *WriteAt) ClearStable() { o.buffer.ClearStable() }

// Sync flushes fd. Datasync selects data-only (fdatasync-equivalent) vs full
// metadata flush.
type Sync struct {
	fd       uintptr
	Datasync bool
}

// NewSync constructs a Sync op. datasync selects fdatasync semantics.
func NewSync(fd uintptr, datasync bool) *Sync {
	return &Sync{fd: fd, Datasync: datasync}
}

func (o *Sync) Fd() uintptr        { return o.fd }
func (o *Sync) Code() Code         { return CodeSync }
func (o *Sync) Adjust(int, error)  {}

// Accept accepts one connection on a listening fd. The op carries its own
// address storage (AddrStorage), but the backends decode the peer address
// from their own sockaddr storage and record it via SetPeerAddr; the caller
// reads it back via PeerAddr once the completion is observed.
type Accept struct {
	fd        uintptr
	addrStore *buf.MutView
	peerAddr  net.Addr
	decodeErr error
}

// NewAccept constructs an Accept op on a listening fd.
func NewAccept(fd uintptr) *Accept {
	return &Accept{fd: fd, addrStore: buf.NewMutView(make([]byte, sockaddrStorageSize))}
}

func (o *Accept) Fd() uintptr            { return o.fd }
func (o *Accept) AddrStorage() *buf.MutView { return o.addrStore }
func (o *Accept) Code() Code             { return CodeAccept }

// PeerAddr returns the accepted connection's peer address, valid after
// Adjust has run on a successful completion.
func (o *Accept) PeerAddr() (net.Addr, error) { return o.peerAddr, o.decodeErr }

// SetPeerAddr lets a backend record the decoded peer address; decoding is
// platform-specific (raw sockaddr bytes vary by family and OS), so it is done
// in the backend package rather than here.
func (o *Accept) SetPeerAddr(addr net.Addr, err error) {
	o.peerAddr, o.decodeErr = addr, err
}

func (o *Accept) Adjust(n int, err error) {
	if err == nil {
		o.addrStore.SetInit(n)
	}
}
func (o *Accept) MarkStable()  { o.addrStore.MarkStable() }
func (o *Accept) ClearStable() { o.addrStore.ClearStable() }

// Connect initiates a connection on fd to addr. Result is empty success or
// the connection error.
type Connect struct {
	fd   uintptr
	addr net.Addr
}

// NewConnect constructs a Connect op.
func NewConnect(fd uintptr, addr net.Addr) *Connect {
	return &Connect{fd: fd, addr: addr}
}

func (o *Connect) Fd() uintptr     { return o.fd }
func (o *Connect) Addr() net.Addr  { return o.addr }
func (o *Connect) Code() Code      { return CodeConnect }
func (o *Connect) Adjust(int, error) {}

// Recv reads from a connected/datagram fd into a single contiguous buffer.
type Recv struct {
	fd     uintptr
	buffer *buf.MutView
}

// NewRecv constructs a scalar Recv op.
func NewRecv(fd uintptr, buffer []byte) *Recv {
	return &Recv{fd: fd, buffer: buf.NewMutView(buffer)}
}

func (o *Recv) Fd() uintptr        { return o.fd }
func (o *Recv) Buffer() *buf.MutView { return o.buffer }
func (o *Recv) Code() Code         { return CodeRecv }
func (o *Recv) Adjust(n int, err error) {
	if err == nil {
		o.buffer.SetInit(n)
	}
}
func (o *Recv) MarkStable()  { o.buffer.MarkStable() }
func (o *Recv) ClearStable() { o.buffer.ClearStable() }

// Send writes a single contiguous buffer to a connected/datagram fd.
type Send struct {
	fd     uintptr
	buffer *buf.View
}

// NewSend constructs a scalar Send op.
func NewSend(fd uintptr, buffer []byte) *Send {
	return &Send{fd: fd, buffer: buf.NewView(buffer)}
}

func (o *Send) Fd() uintptr      { return o.fd }
func (o *Send) Buffer() *buf.View { return o.buffer }
func (o *Send) Code() Code       { return CodeSend }
func (o *Send) Adjust(int, error) {}
func (o *Send) MarkStable()  { o.buffer.MarkStable() }
func (o *Send) ClearStable() { o.buffer.ClearStable() }

// RecvVectored reads into a list of buffer slices (readv/recvmsg-shaped).
type RecvVectored struct {
	fd      uintptr
	buffers *buf.MutVector
}

// NewRecvVectored constructs a vectored Recv op over bufs.
func NewRecvVectored(fd uintptr, bufs ...[]byte) *RecvVectored {
	return &RecvVectored{fd: fd, buffers: buf.NewMutVector(bufs...)}
}

func (o *RecvVectored) Fd() uintptr          { return o.fd }
func (o *RecvVectored) Buffers() *buf.MutVector { return o.buffers }
func (o *RecvVectored) Code() Code           { return CodeRecvVectored }
func (o *RecvVectored) Adjust(n int, err error) {
	if err == nil {
		o.buffers.SetInit(n)
	}
}
func (o *RecvVectored) MarkStable()  { o.buffers.MarkStable() }
func (o *RecvVectored) ClearStable() { o.buffers.ClearStable() }

// SendVectored writes a list of buffer slices (writev/sendmsg-shaped).
type SendVectored struct {
	fd      uintptr
	buffers *buf.Vector
}

// NewSendVectored constructs a vectored Send op over bufs.
func NewSendVectored(fd uintptr, bufs ...[]byte) *SendVectored {
	return &SendVectored{fd: fd, buffers: buf.NewVector(bufs...)}
}

func (o *SendVectored) Fd() uintptr       { return o.fd }
func (o *SendVectored) Buffers() *buf.Vector { return o.buffers }
func (o *SendVectored) Code() Code        { return CodeSendVectored }
func (o *SendVectored) Adjust(int, error) {}
func (o *SendVectored) MarkStable()  { o.buffers.MarkStable() }
func (o *SendVectored) ClearStable() { o.buffers.ClearStable() }

// RecvFrom reads a datagram, recording the sender's address alongside the
// payload. Carries peer-address storage and a vectored buffer list; the
// backend reads into the buffer list (through its own msghdr and sockaddr
// storage on io_uring), records the sender via SetPeerAddr, and the caller
// inspects the result at completion.
type RecvFrom struct {
	fd        uintptr
	buffers   *buf.MutVector
	addrStore *buf.MutView
	peerAddr  net.Addr
	decodeErr error
}

// NewRecvFrom constructs a RecvFrom op over bufs.
func NewRecvFrom(fd uintptr, bufs ...[]byte) *RecvFrom {
	return &RecvFrom{
		fd:        fd,
		buffers:   buf.NewMutVector(bufs...),
		addrStore: buf.NewMutView(make([]byte, sockaddrStorageSize)),
	}
}

func (o *RecvFrom) Fd() uintptr             { return o.fd }
func (o *RecvFrom) Buffers() *buf.MutVector { return o.buffers }
func (o *RecvFrom) AddrStorage() *buf.MutView { return o.addrStore }
func (o *RecvFrom) Code() Code              { return CodeRecvFrom }

// PeerAddr returns the datagram's sender address, valid after Adjust has run
// on a successful completion.
func (o *RecvFrom) PeerAddr() (net.Addr, error) { return o.peerAddr, o.decodeErr }

// SetPeerAddr lets a backend record the decoded sender address.
func (o *RecvFrom) SetPeerAddr(addr net.Addr, err error) {
	o.peerAddr, o.decodeErr = addr, err
}

func (o *RecvFrom) Adjust(n int, err error) {
	if err == nil {
		o.buffers.SetInit(n)
	}
}

// MarkStable pins both the payload vector and the op's sender-address
// storage.
func (o *RecvFrom) MarkStable() {
	o.buffers.MarkStable()
	o.addrStore.MarkStable()
}
func (o *RecvFrom) ClearStable() {
	o.buffers.ClearStable()
	o.addrStore.ClearStable()
}

// SendTo writes a datagram to addr, carrying a vectored buffer list.
type SendTo struct {
	fd      uintptr
	buffers *buf.Vector
	addr    net.Addr
}

// NewSendTo constructs a SendTo op over bufs addressed to addr.
func NewSendTo(fd uintptr, addr net.Addr, bufs ...[]byte) *SendTo {
	return &SendTo{fd: fd, buffers: buf.NewVector(bufs...), addr: addr}
}

func (o *SendTo) Fd() uintptr       { return o.fd }
func (o *SendTo) Buffers() *buf.Vector { return o.buffers }
func (o *SendTo) Addr() net.Addr    { return o.addr }
func (o *SendTo) Code() Code        { return CodeSendTo }
func (o *SendTo) Adjust(int, error) {}
func (o *SendTo) MarkStable()  { o.buffers.MarkStable() }
func (o *SendTo) ClearStable() { o.buffers.ClearStable() }

// Timeout completes after Duration elapses, with a timed-out-error-kind
// result; it can be cancelled like any other op. Used to bound an individual
// operation by submitting a Timeout alongside it and cancelling the target
// when the timer completes (the driver itself applies no implicit per-op
// timeout).
type Timeout struct {
	Duration time.Duration
}

// NewTimeout constructs a Timeout op that fires after d.
func NewTimeout(d time.Duration) *Timeout {
	return &Timeout{Duration: d}
}

func (o *Timeout) Code() Code         { return CodeTimeout }
func (o *Timeout) Adjust(int, error)  {}
