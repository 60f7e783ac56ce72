//go:build windows

// Package iocp is the windows completion backend: submitted operations are
// issued as overlapped I/O against a single I/O completion port, and
// GetQueuedCompletionStatusEx harvests completions keyed by the token
// embedded in each request's OVERLAPPED extension.
package iocp

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/go-completio/completio/op"
)

// overlappedRequest embeds windows.Overlapped so a pointer to it can be
// passed anywhere the Windows API expects an LPOVERLAPPED, then recovered
// via unsafe.Pointer arithmetic when the completion port hands it back.
type overlappedRequest struct {
	ov     windows.Overlapped
	token  uint64
	opcode op.Opcode
	buf    []byte
}

// Backend implements the driver package's backend interface over a single
// Windows I/O completion port.
type Backend struct {
	mu      sync.Mutex
	port    windows.Handle
	attached map[uintptr]bool
	pending map[uint64]*overlappedRequest
}

// New creates a completion port sized for entries concurrent threads.
func New(entries uint32) (*Backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, entries)
	if err != nil {
		return nil, fmt.Errorf("iocp: create completion port: %w", err)
	}
	return &Backend{
		port:     port,
		attached: make(map[uintptr]bool),
		pending:  make(map[uint64]*overlappedRequest),
	}, nil
}

// Attach associates fd's handle with the completion port. IOCP enforces
// exclusive attach: a handle bound to one port cannot be bound to another.
func (b *Backend) Attach(fd uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached[fd] {
		return fmt.Errorf("iocp: fd already attached")
	}
	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), b.port, 0, 0); err != nil {
		return fmt.Errorf("iocp: associate handle: %w", err)
	}
	b.attached[fd] = true
	return nil
}

func (b *Backend) RawFD() uintptr { return uintptr(b.port) }

func (b *Backend) Close() error {
	return windows.CloseHandle(b.port)
}

// Submit issues opcode as overlapped I/O tagged with token.
func (b *Backend) Submit(token uint64, opcode op.Opcode) error {
	req := &overlappedRequest{token: token, opcode: opcode}

	b.mu.Lock()
	b.pending[token] = req
	b.mu.Unlock()

	if err := issue(req); err != nil {
		b.mu.Lock()
		delete(b.pending, token)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Cancel best-effort cancels token's overlapped I/O via CancelIoEx.
func (b *Backend) Cancel(token uint64) error {
	b.mu.Lock()
	req, ok := b.pending[token]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("iocp: unknown token %d", token)
	}
	fd, ok := fdOf(req.opcode)
	if !ok {
		return fmt.Errorf("iocp: op has no cancellable handle")
	}
	return windows.CancelIoEx(windows.Handle(fd), &req.ov)
}

// SubmitWait waits on the completion port for up to timeout and reports
// whatever completions arrive.
func (b *Backend) SubmitWait(timeout *time.Duration, onComplete func(token uint64, n int, err error)) error {
	ms := uint32(windows.INFINITE)
	if timeout != nil {
		ms = uint32(timeout.Milliseconds())
	}

	var entries [64]windows.OverlappedEntry
	var removed uint32
	err := windows.GetQueuedCompletionStatusEx(b.port, entries[:], &removed, ms, false)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil
		}
		return fmt.Errorf("iocp: GetQueuedCompletionStatusEx: %w", err)
	}

	for i := uint32(0); i < removed; i++ {
		e := entries[i]
		req := (*overlappedRequest)(unsafe.Pointer(e.Overlapped))

		b.mu.Lock()
		_, ok := b.pending[req.token]
		delete(b.pending, req.token)
		b.mu.Unlock()
		if !ok {
			continue
		}

		// Adjust is the driver's responsibility (driver.complete), not
		// the backend's: calling it here too would run it twice per op.
		n := int(e.BytesTransferred)
		onComplete(req.token, n, nil)
	}
	return nil
}

func fdOf(opcode op.Opcode) (uintptr, bool) {
	f, ok := opcode.(op.Fd)
	if !ok {
		return 0, false
	}
	return f.Fd(), true
}

// issue dispatches opcode onto its target handle as overlapped I/O. Only
// ReadAt, WriteAt and Sync are issued; every other opcode, Timeout included,
// is rejected with an unsupported-opcode error.
func issue(req *overlappedRequest) error {
	switch o := req.opcode.(type) {
	case *op.ReadAt:
		req.ov.OffsetHigh, req.ov.Offset = uint32(o.Offset()>>32), uint32(o.Offset())
		buf := o.Buffer().Uninit()
		return pendingOK(windows.ReadFile(windows.Handle(o.Fd()), buf, nil, &req.ov))
	case *op.WriteAt:
		req.ov.OffsetHigh, req.ov.Offset = uint32(o.Offset()>>32), uint32(o.Offset())
		return pendingOK(windows.WriteFile(windows.Handle(o.Fd()), o.Buffer().Bytes(), nil, &req.ov))
	case *op.Sync:
		return windows.FlushFileBuffers(windows.Handle(o.Fd()))
	default:
		// Accept/Connect/socket ops need AcceptEx/ConnectEx function
		// pointers resolved via WSAIoctl(SIO_GET_EXTENSION_FUNCTION_POINTER)
		// before they can be issued as overlapped I/O; not wired up here.
		return fmt.Errorf("iocp: unsupported opcode %T", req.opcode)
	}
}

// pendingOK treats ERROR_IO_PENDING as a successful submission: the
// completion arrives later through the port.
func pendingOK(err error) error {
	if err == windows.ERROR_IO_PENDING {
		return nil
	}
	return err
}
