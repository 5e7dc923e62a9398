//go:build linux
// +build linux

package node

import (
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	readEvents      = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents     = unix.EPOLLOUT
	readWriteEvents = readEvents | writeEvents
)

// Registry is a wrapper around epoll. It keeps track of the connection fds that are registered to epoll.
// Only the event loop goroutine touches it.
type Registry struct {
	epollFd  int
	epollSet map[int]uint32
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd:  epollFd,
		epollSet: make(map[int]uint32),
	}
}

// registerRead registers fd to epoll for read events.
func (r *Registry) registerRead(fd int) (err error) {
	_, ok := r.epollSet[fd]

	if ok {
		err = r.ModRead(fd)
	} else {
		err = r.AddRead(fd)
	}

	if err != nil {
		return err
	}

	r.epollSet[fd] = readEvents
	return
}

// registerReadWrite keeps read interest and adds write interest, used while a response is pending.
func (r *Registry) registerReadWrite(fd int) (err error) {
	_, ok := r.epollSet[fd]

	if ok {
		err = r.ModReadWrite(fd)
	} else {
		err = r.AddReadWrite(fd)
	}

	if err != nil {
		return err
	}

	r.epollSet[fd] = readWriteEvents
	return
}

// deregisterWrite drops write interest and goes back to read events only.
func (r *Registry) deregisterWrite(fd int) error {
	return r.registerRead(fd)
}

// unregister removes fd from epoll.
func (r *Registry) unregister(fd int) error {
	if _, ok := r.epollSet[fd]; !ok {
		return nil
	}

	delete(r.epollSet, fd)
	return r.Delete(fd)
}

// interest returns the events fd is registered for, or 0.
func (r *Registry) interest(fd int) uint32 {
	return r.epollSet[fd]
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	return len(r.epollSet)
}

// CloseAll unregisters and closes every fd still in the registry.
func (r *Registry) CloseAll() error {
	var errs error

	for fd := range r.epollSet {
		errs = multierr.Append(errs, r.Delete(fd))
		errs = multierr.Append(errs, os.NewSyscallError("close", unix.Close(fd)))
		delete(r.epollSet, fd)
	}

	return errs
}

func (r *Registry) AddRead(fd int) error {
	return r.ctl(unix.EPOLL_CTL_ADD, fd, readEvents)
}

func (r *Registry) AddReadWrite(fd int) error {
	return r.ctl(unix.EPOLL_CTL_ADD, fd, readWriteEvents)
}

func (r *Registry) ModRead(fd int) error {
	return r.ctl(unix.EPOLL_CTL_MOD, fd, readEvents)
}

func (r *Registry) ModReadWrite(fd int) error {
	return r.ctl(unix.EPOLL_CTL_MOD, fd, readWriteEvents)
}

func (r *Registry) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (r *Registry) ctl(op, fd int, events uint32) error {
	name := "epoll_ctl add"
	if op == unix.EPOLL_CTL_MOD {
		name = "epoll_ctl mod"
	}
	return os.NewSyscallError(name,
		unix.EpollCtl(r.epollFd, op, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}))
}
