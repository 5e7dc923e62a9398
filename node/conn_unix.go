//go:build linux
// +build linux

package node

import (
	"bytes"
	"io"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-time-server/log"
)

// DefaultBufferedConn is a non-blocking socket registered with a Poll.
type DefaultBufferedConn struct {
	fd          int
	id          string
	ip          string
	readBufSize int
	poll        *Poll
	closed      bool

	// pending response bytes, only used when the poll queues partial writes
	head         []byte
	pending      *queue.Queue
	pendingBytes int
}

func newBufferedConn(p *Poll, fd int, ip string) *DefaultBufferedConn {
	return &DefaultBufferedConn{
		fd:          fd,
		id:          uuid.NewString(),
		ip:          ip,
		readBufSize: p.opts.ReadBufferSize,
		poll:        p,
		pending:     queue.New(),
	}
}

// Read does exactly one read into a fresh fixed size buffer. A request
// longer than the buffer, or split across reads, is seen as several requests.
func (c *DefaultBufferedConn) Read() ([]byte, error) {
	buf := make([]byte, c.readBufSize)

	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if IsTemporaryError(err) {
			return nil, nil
		}
		return nil, ioError(c.fd, "read", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	return buf[:n], nil
}

// Write tries the socket once. Whatever the socket does not take is either
// dropped or, with queueing on, kept until the fd is writable again.
func (c *DefaultBufferedConn) Write(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	// Earlier bytes are still waiting, keep the order.
	if c.Len() > 0 {
		c.enqueue(data)
		return nil
	}

	n, err := unix.Write(c.fd, data)
	if err != nil {
		if !IsTemporaryError(err) {
			return ioError(c.fd, "write", err)
		}
		n = 0
	}
	if n >= len(data) {
		return nil
	}

	rest := data[n:]
	if !c.poll.opts.QueuePartialWrites {
		c.poll.opts.Metrics.partialWrite(len(rest))
		log.Logger.Debug("short write, dropping response tail",
			zap.String("conn", c.id), zap.Int("written", n), zap.Int("dropped", len(rest)))
		return nil
	}

	c.poll.opts.Metrics.partialWrite(0)
	c.enqueue(rest)
	return c.poll.registerReadWrite(c.fd)
}

func (c *DefaultBufferedConn) enqueue(data []byte) {
	c.pending.Add(data)
	c.pendingBytes += len(data)
}

// Close unregisters and closes the fd once. Later calls do nothing.
func (c *DefaultBufferedConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.poll.unregister(c.fd); err != nil {
		unix.Close(c.fd)
		return err
	}
	return CloseFd(c.fd)
}

// DataToWrite returns the data to write.
func (c *DefaultBufferedConn) DataToWrite() []byte {
	if len(c.head) == 0 && c.pending.Length() > 0 {
		c.head = c.pending.Remove().([]byte)
		c.pendingBytes -= len(c.head)
	}
	return c.head
}

// Next moves the buffer forward.
func (c *DefaultBufferedConn) Next(n int) {
	if n > len(c.head) {
		n = len(c.head)
	}
	c.head = c.head[n:]
}

// Len returns the number of bytes not written yet.
func (c *DefaultBufferedConn) Len() int {
	return len(c.head) + c.pendingBytes
}

// Fd returns the file descriptor of the connection.
func (c *DefaultBufferedConn) Fd() int {
	return c.fd
}

// ID is unique per accepted connection, fds get reused.
func (c *DefaultBufferedConn) ID() string {
	return c.id
}

// Ip returns the peer address of the connection.
func (c *DefaultBufferedConn) Ip() string {
	return c.ip
}
