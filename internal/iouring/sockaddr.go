package iouring

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/go-completio/completio/op"
)

// encodeSockaddr fills a RawSockaddrAny from a *net.TCPAddr/*net.UDPAddr so
// it can be handed to PrepareConnect/PrepareSendmsg, which need a raw
// sockaddr pointer rather than a net.Addr.
func encodeSockaddr(addr net.Addr) (*unix.RawSockaddrAny, error) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	default:
		return nil, fmt.Errorf("iouring: unsupported address type %T", addr)
	}

	raw := &unix.RawSockaddrAny{}
	if v4 := ip.To4(); v4 != nil {
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		sa.Family = unix.AF_INET
		sa.Port = htons(uint16(port))
		copy(sa.Addr[:], v4)
		return raw, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, fmt.Errorf("iouring: invalid IP %v", ip)
	}
	sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
	sa.Family = unix.AF_INET6
	sa.Port = htons(uint16(port))
	copy(sa.Addr[:], v6)
	return raw, nil
}

// decodeSockaddr recovers a net.Addr from a RawSockaddrAny populated by the
// kernel (accept's peer address, recvmsg's source address).
func decodeSockaddr(raw *unix.RawSockaddrAny, datagram bool) (net.Addr, error) {
	switch raw.Addr.Family {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		ip := make(net.IP, 4)
		copy(ip, sa.Addr[:])
		port := int(ntohs(sa.Port))
		if datagram {
			return &net.UDPAddr{IP: ip, Port: port}, nil
		}
		return &net.TCPAddr{IP: ip, Port: port}, nil
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		port := int(ntohs(sa.Port))
		if datagram {
			return &net.UDPAddr{IP: ip, Port: port}, nil
		}
		return &net.TCPAddr{IP: ip, Port: port}, nil
	default:
		return nil, fmt.Errorf("iouring: unsupported address family %d", raw.Addr.Family)
	}
}

func setPeerAddrFromRaw(acc *op.Accept, raw *unix.RawSockaddrAny) {
	if raw == nil {
		return
	}
	addr, err := decodeSockaddr(raw, false)
	acc.SetPeerAddr(addr, err)
}

func setRecvFromPeerAddr(rf *op.RecvFrom, raw *unix.RawSockaddrAny) {
	if raw == nil {
		return
	}
	addr, err := decodeSockaddr(raw, true)
	rf.SetPeerAddr(addr, err)
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
func ntohs(v uint16) uint16 { return v<<8 | v>>8 }
