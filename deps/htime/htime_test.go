package htime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fzft/go-time-server/proto"
)

// stubServer answers every read with reply, or never answers when reply is empty.
func stubServer(t *testing.T, reply string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 1024)
				for {
					if _, err := conn.Read(buf); err != nil {
						return
					}
					if reply != "" {
						if _, err := conn.Write([]byte(reply)); err != nil {
							return
						}
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestClientDo(t *testing.T) {
	host, port := stubServer(t, proto.BadOrder)
	c, err := Dial(context.Background(), host, port, time.Second)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		reply, err := c.Do(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, proto.BadOrder, reply)
	}
}

func TestClientQueryTime(t *testing.T) {
	host, port := stubServer(t, "Sun Oct 18 09:41:07 UTC 2026")
	c, err := Dial(context.Background(), host, port, time.Second)
	require.NoError(t, err)
	defer c.Close()

	ts, err := c.QueryTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 18, 9, 41, 7, 0, time.UTC), ts.UTC())
}

func TestClientQueryTimeBadOrder(t *testing.T) {
	host, port := stubServer(t, proto.BadOrder)
	c, err := Dial(context.Background(), host, port, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.QueryTime(context.Background())
	assert.ErrorIs(t, err, ErrBadOrder)
}

func TestClientTimeout(t *testing.T) {
	host, port := stubServer(t, "")
	c, err := Dial(context.Background(), host, port, 100*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	_, err = c.Do(context.Background(), "hello")
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientContextCancel(t *testing.T) {
	host, port := stubServer(t, "")
	c, err := Dial(context.Background(), host, port, 10*time.Second)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Do(ctx, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCancelThenClose(t *testing.T) {
	host, port := stubServer(t, "")

	for i := 0; i < 50; i++ {
		c, err := Dial(context.Background(), host, port, time.Second)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err = c.Do(ctx, "hello")
		assert.Error(t, err)
		cancel()
		require.NoError(t, c.Close())
	}
}

func TestClientErrors(t *testing.T) {
	host, port := stubServer(t, proto.BadOrder)
	c, err := Dial(context.Background(), host, port, time.Second)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyRequest)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Do(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "127.0.0.1", port, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}
