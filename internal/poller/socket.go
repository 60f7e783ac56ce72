//go:build !windows

package poller

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/go-completio/completio/buf"
	"github.com/go-completio/completio/op"
)

// Cancellation on this backend is advisory and checked only at each op's
// natural blocking point (before issuing the syscall; vectored ops issue a
// single readv/writev); an in-flight blocking syscall itself is not
// interrupted, matching the driver contract's "best-effort" guarantee.

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

func acceptWithCancel(ctx context.Context, o *op.Accept) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	nfd, sa, err := unix.Accept(int(o.Fd()))
	if err != nil {
		return 0, err
	}
	o.SetPeerAddr(sockaddrToAddr(sa, false))
	return nfd, nil
}

func connectWithCancel(ctx context.Context, o *op.Connect) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	sa, err := addrToSockaddr(o.Addr())
	if err != nil {
		return 0, err
	}
	if err := unix.Connect(int(o.Fd()), sa); err != nil {
		return 0, err
	}
	return 0, nil
}

func recvWithCancel(ctx context.Context, fd uintptr, buf []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	return unix.Read(int(fd), buf)
}

func sendWithCancel(ctx context.Context, fd uintptr, buf []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	return unix.Write(int(fd), buf)
}

// recvVectoredWithCancel uses readv so a single datagram (or a stream read
// that happens to span buffers) scatters across the segments in one
// syscall, rather than risking one read per segment splitting a datagram
// payload across multiple recv calls. segments is captured synchronously in
// Submit, one slice per buffer view.
func recvVectoredWithCancel(ctx context.Context, o *op.RecvVectored, segments [][]byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	return unix.Readv(int(o.Fd()), segments)
}

// sendVectoredWithCancel uses writev so the segments reach the peer as one
// gather-write: on a datagram socket, separate Write calls per segment would
// each send its own packet instead of one packet carrying the concatenated
// payload.
func sendVectoredWithCancel(ctx context.Context, o *op.SendVectored, segments [][]byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	return unix.Writev(int(o.Fd()), segments)
}

func recvFromWithCancel(ctx context.Context, o *op.RecvFrom, segments [][]byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	dst := segments[0]
	merged := len(segments) > 1
	if merged {
		total := 0
		for _, s := range segments {
			total += cap(s)
		}
		dst = buf.GetScratch(total)
		defer buf.PutScratch(dst)
	}
	n, sa, err := unix.Recvfrom(int(o.Fd()), dst, 0)
	if err != nil {
		return 0, err
	}
	addr, addrErr := sockaddrToAddr(sa, true)
	o.SetPeerAddr(addr, addrErr)
	if merged {
		scatterInto(segments, dst[:n])
	}
	return n, nil
}

// scatterInto copies data across segments front-to-back, mirroring a kernel
// recvmsg's scatter/gather fill order for the >1-iovec case where the
// syscall itself only had one contiguous destination to read into.
func scatterInto(segments [][]byte, data []byte) {
	off := 0
	for _, seg := range segments {
		if off >= len(data) {
			return
		}
		n := copy(seg, data[off:])
		off += n
	}
}

func sendToWithCancel(ctx context.Context, o *op.SendTo, segments [][]byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	sa, err := addrToSockaddr(o.Addr())
	if err != nil {
		return 0, err
	}
	if len(segments) == 1 {
		if err := unix.Sendto(int(o.Fd()), segments[0], 0, sa); err != nil {
			return 0, err
		}
		return len(segments[0]), nil
	}
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	payload := buf.GetScratch(total)
	defer buf.PutScratch(payload)
	off := 0
	for _, s := range segments {
		off += copy(payload[off:], s)
	}
	if err := unix.Sendto(int(o.Fd()), payload, 0, sa); err != nil {
		return 0, err
	}
	return total, nil
}

func sockaddrToAddr(sa unix.Sockaddr, datagram bool) (net.Addr, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := append([]byte(nil), s.Addr[:]...)
		if datagram {
			return &net.UDPAddr{IP: ip, Port: s.Port}, nil
		}
		return &net.TCPAddr{IP: ip, Port: s.Port}, nil
	case *unix.SockaddrInet6:
		ip := append([]byte(nil), s.Addr[:]...)
		if datagram {
			return &net.UDPAddr{IP: ip, Port: s.Port}, nil
		}
		return &net.TCPAddr{IP: ip, Port: s.Port}, nil
	default:
		return nil, fmt.Errorf("poller: unsupported sockaddr type %T", sa)
	}
}

func addrToSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	default:
		return nil, fmt.Errorf("poller: unsupported address type %T", addr)
	}
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, fmt.Errorf("poller: invalid IP %v", ip)
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], v6)
	return sa, nil
}
