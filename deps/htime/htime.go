package htime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-time-server/proto"
)

const (
	DefaultHost    = "127.0.0.1"
	DefaultTimeout = 5 * time.Second

	// replies are never longer than one server read buffer
	maxReplySize = 1024
)

var (
	ErrEmptyRequest = errors.New("empty request")
	ErrBadOrder     = errors.New("server answered " + proto.BadOrder)
	ErrClosed       = errors.New("connection closed")
)

// Client is a blocking connection to a time server. It is not safe for
// concurrent use: the protocol has no framing, so requests must not overlap.
type Client struct {
	conn    net.Conn
	addr    string
	timeout time.Duration
	buf     []byte
}

// Dial connects to host:port. A non-positive timeout means DefaultTimeout,
// it bounds the dial and every later round trip.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Client, error) {
	if host == "" {
		host = DefaultHost
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		addr:    addr,
		timeout: timeout,
		buf:     make([]byte, maxReplySize),
	}, nil
}

// Do sends request as is and returns whatever one read brings back.
func (c *Client) Do(ctx context.Context, request string) (string, error) {
	conn := c.conn
	if conn == nil {
		return "", ErrClosed
	}
	if len(request) == 0 {
		return "", ErrEmptyRequest
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	// unblock the pending read if ctx goes away first. The callback may still
	// be running after Do returns, so it only touches the captured conn.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, request); err != nil {
		return "", c.wrap(ctx, "write", err)
	}

	n, err := conn.Read(c.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read from %s: %w", c.addr, ErrClosed)
		}
		return "", c.wrap(ctx, "read", err)
	}
	return string(c.buf[:n]), nil
}

// QueryTime sends the time order and parses the reply.
func (c *Client) QueryTime(ctx context.Context) (time.Time, error) {
	reply, err := c.Do(ctx, proto.QueryTimeOrder)
	if err != nil {
		return time.Time{}, err
	}
	if strings.TrimSpace(reply) == proto.BadOrder {
		return time.Time{}, ErrBadOrder
	}
	return proto.ParseTime(reply)
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, c.addr, ctxErr)
	}
	return fmt.Errorf("%s %s: %w", op, c.addr, err)
}
