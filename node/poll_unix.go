//go:build linux
// +build linux

package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-time-server/log"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

// Poll is a level-triggered epoll loop. Everything but wake and ConnCount
// runs on the goroutine that calls poll.
type Poll struct {
	*Registry
	epollFd  int
	listenFD int
	efd      int // eventfd used to wake up EpollWait
	opts     PollOptions
	connCnt  int64
	connPool map[int]BufferedConn

	mu     sync.Mutex // guards efd against a concurrent close
	closed bool
}

func NewPoll(lnFd int, opts PollOptions) (p *Poll, err error) {
	opts = opts.withDefaults()

	// Create a new epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		return nil, os.NewSyscallError("eventfd", err)
	}

	defer func() {
		if err != nil {
			unix.Close(efd)
			unix.Close(epfd)
		}
	}()

	r := NewRegistry(epfd)

	// Register the eventfd to epoll for read events
	if err := r.AddRead(efd); err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		return nil, err
	}

	// Register the listener to epoll for read events
	if err := r.AddRead(lnFd); err != nil {
		log.Logger.Error("Failed to add listener to epoll", zap.Error(err))
		return nil, err
	}

	return &Poll{
		Registry: r,
		epollFd:  epfd,
		listenFD: lnFd,
		efd:      efd,
		opts:     opts,
		connPool: make(map[int]BufferedConn),
	}, nil
}

// CloseGracefully order: eventfd, listener, connections, epoll
// prevent the fd leak
func (p *Poll) CloseGracefully() error {
	var errs error

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	errs = multierr.Append(errs, p.Delete(p.efd))
	errs = multierr.Append(errs, CloseFd(p.efd))
	p.mu.Unlock()

	errs = multierr.Append(errs, p.Delete(p.listenFD))
	errs = multierr.Append(errs, CloseFd(p.listenFD))

	for fd := range p.connPool {
		errs = multierr.Append(errs, p.closeConn(fd, nil))
	}

	// anything registered without a connection behind it
	errs = multierr.Append(errs, p.CloseAll())

	errs = multierr.Append(errs, CloseFd(p.epollFd))
	return errs
}

func (p *Poll) poll(ctx context.Context) error {
	events := make([]unix.EpollEvent, p.opts.MaxEvents)
	msec := int(p.opts.WaitTimeout / time.Millisecond)

	defer func() {
		if err := p.CloseGracefully(); err != nil {
			log.Logger.Warn("errors while closing event loop", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Logger.Info("stop signal received, exiting event loop")
			return nil
		default:
		}

		// n == 0 means the wait timed out, loop around and look at ctx again.
		n, err := unix.EpollWait(p.epollFd, events, msec)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.opts.Metrics.loopError()
			log.Logger.Error("epoll wait error", zap.Error(err))
			continue
		}

		// Each ready event is consumed exactly once. Level triggering brings
		// an fd back on the next wait if it still has unread bytes.
		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			err := p.processEvent(fd, ev.Events)
			if err == nil {
				continue
			}
			if IsFatal(err) {
				log.Logger.Error("fatal error, stopping event loop", zap.Int("fd", fd), zap.Error(err))
				return err
			}
			if cerr := p.closeConn(fd, err); cerr != nil {
				log.Logger.Debug("close connection", zap.Int("fd", fd), zap.Error(cerr))
			}
		}
	}
}

func (p *Poll) processEvent(fd int, events uint32) error {
	switch fd {
	case p.efd:
		// if the fd is the eventfd, someone wants the loop to look at its context
		return p.handleSignal(fd)
	case p.listenFD:
		// if the fd is the listener, it means that there is a new connection
		return p.accept(fd)
	}

	conn, ok := p.connPool[fd]
	if !ok {
		// closed earlier in this batch
		log.Logger.Debug("event for unknown fd", zap.Int("fd", fd), zap.Uint32("events", events))
		return nil
	}

	if events&unix.EPOLLIN != 0 {
		outcome, err := p.opts.Handler.OnReadable(conn)
		if err != nil {
			return err
		}
		if outcome == OutcomeClose {
			return p.closeConn(fd, nil)
		}
	} else if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return p.closeConn(fd, nil)
	}

	if events&unix.EPOLLOUT != 0 {
		return p.handleWrite(conn)
	}
	return nil
}

// handleSignal drains the eventfd counter so the level-triggered event goes away.
func (p *Poll) handleSignal(fd int) error {
	var buf uint64
	_, err := unix.Read(fd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
	if err != nil && !IsTemporaryError(err) {
		log.Logger.Error("Failed to read from event fd", zap.Error(err))
	}
	return nil
}

// wake makes a blocked EpollWait return. Safe to call from any goroutine.
func (p *Poll) wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var one uint64 = 1
	_, err := unix.Write(p.efd, (*(*[8]byte)(unsafe.Pointer(&one)))[:])
	if err != nil && !IsTemporaryError(err) {
		log.Logger.Error("Failed to write to event fd", zap.Error(err))
		return os.NewSyscallError("write eventfd", err)
	}
	return nil
}

// accept takes exactly one pending connection and registers it for read events.
func (p *Poll) accept(fd int) error {
	connFd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		// Handle the case where there are no more connections to accept.
		if IsTemporaryError(err) {
			return nil
		}
		err = ioError(fd, "accept", err)
		if IsFatal(err) {
			return err
		}
		// EMFILE, ECONNABORTED and friends, the listener itself is fine
		log.Logger.Warn("accept error", zap.Error(err))
		return nil
	}

	// register the new connection to epoll for read events
	if err := p.registerRead(connFd); err != nil {
		unix.Close(connFd)
		log.Logger.Error("register read error", zap.Int("fd", connFd), zap.Error(err))
		return nil
	}

	var ip string
	if addr := sockaddrToTCPAddr(sa); addr != nil {
		ip = net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
	}

	conn := newBufferedConn(p, connFd, ip)
	p.connPool[connFd] = conn

	// increase the number of fds
	p.incrFd()
	p.opts.Metrics.connAccepted()

	log.Logger.Debug("new connection", zap.Int("fd", connFd), zap.String("conn", conn.ID()), zap.String("peer", ip))
	return nil
}

// closeConn unregisters and closes the connection on fd. cause is the error
// that made us give up on it, nil for a normal close.
func (p *Poll) closeConn(fd int, cause error) error {
	conn, ok := p.connPool[fd]
	if !ok {
		return nil
	}
	delete(p.connPool, fd)

	p.decrFd()
	p.opts.Metrics.connClosed()

	if cause != nil {
		log.Logger.Debug("closing connection after error", zap.Int("fd", fd), zap.String("conn", conn.ID()), zap.Error(cause))
	} else {
		log.Logger.Debug("connection closed", zap.Int("fd", fd), zap.String("conn", conn.ID()))
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close conn %s: %w", conn.ID(), err)
	}
	return nil
}

func (p *Poll) incrFd() {
	atomic.AddInt64(&p.connCnt, 1)
}

func (p *Poll) decrFd() {
	atomic.AddInt64(&p.connCnt, -1)
}

// ConnCount is the number of open client connections. Safe from any goroutine.
func (p *Poll) ConnCount() int64 {
	return atomic.LoadInt64(&p.connCnt)
}

// handleWrite flushes pending response bytes once the fd is writable.
func (p *Poll) handleWrite(conn BufferedConn) error {
	fd := conn.Fd()

	// Get the data to write
	data := conn.DataToWrite()
	if len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			if !IsTemporaryError(err) {
				return ioError(fd, "write", err)
			}
			n = 0
		}
		// Advance the buffer to reflect the bytes written
		conn.Next(n)
	}

	if conn.Len() == 0 {
		// All data was written. Deregister EPOLLOUT for this fd.
		if err := p.deregisterWrite(fd); err != nil {
			return fmt.Errorf("failed to deregister write for fd %d: %w", fd, err)
		}
	}

	return nil
}
