//go:build linux
// +build linux

package node

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// IsTemporaryError reports whether a non-blocking call simply had nothing to do.
func IsTemporaryError(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// ioError wraps err from op on fd. Errors that can only mean our own
// bookkeeping is broken are fatal, everything else is the peer's problem.
func ioError(fd int, op string, err error) error {
	err = os.NewSyscallError(op, err)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.EFAULT) || errors.Is(err, unix.EINVAL) {
		return Fatal(fd, err)
	}
	return err
}

// CloseFd closes fd exactly as asked. Callers track whether they already
// did, a second close could hit a reused descriptor.
func CloseFd(fd int) error {
	if fd < 0 {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(fd))
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), Port: addr.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port}
	default:
		return nil
	}
}
