//go:build linux
// +build linux

package node

import (
	"bytes"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPoll(t *testing.T, opts PollOptions) *Poll {
	t.Helper()
	lnFd, _, err := listenTCP("127.0.0.1", 0, 16)
	require.NoError(t, err)

	p, err := NewPoll(lnFd, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.CloseGracefully() })
	return p
}

// attach registers one end of a socketpair with p, as accept would.
func attach(t *testing.T, p *Poll) (*DefaultBufferedConn, int) {
	t.Helper()
	a, b := socketPair(t)
	t.Cleanup(func() { unix.Close(b) })

	require.NoError(t, p.registerRead(a))
	conn := newBufferedConn(p, a, "pair")
	p.connPool[a] = conn
	p.incrFd()
	return conn, b
}

// drain reads everything currently buffered on fd.
func drain(t *testing.T, fd int, into *bytes.Buffer) {
	t.Helper()
	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			require.True(t, IsTemporaryError(err), "read: %v", err)
			return
		}
		if n == 0 {
			return
		}
		into.Write(buf[:n])
	}
}

func TestConnReadOnce(t *testing.T) {
	p := newTestPoll(t, PollOptions{ReadBufferSize: 1024})
	conn, peer := attach(t, p)

	data, err := conn.Read()
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = unix.Write(peer, []byte("hello"))
	require.NoError(t, err)
	data, err = conn.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// no reassembly: a long request comes back one buffer at a time
	_, err = unix.Write(peer, bytes.Repeat([]byte("a"), 1500))
	require.NoError(t, err)
	data, err = conn.Read()
	require.NoError(t, err)
	assert.Len(t, data, 1024)
	data, err = conn.Read()
	require.NoError(t, err)
	assert.Len(t, data, 476)

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	_, err = conn.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnWriteDropsShortWriteTail(t *testing.T) {
	m := NewMetrics()
	p := newTestPoll(t, PollOptions{Metrics: m})
	conn, peer := attach(t, p)

	payload := bytes.Repeat([]byte("x"), 4<<20)
	require.NoError(t, conn.Write(payload))

	assert.Zero(t, conn.Len())
	assert.Equal(t, uint32(readEvents), p.interest(conn.Fd()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partialWrites))

	var got bytes.Buffer
	drain(t, peer, &got)
	assert.Less(t, got.Len(), len(payload))
	assert.Equal(t, float64(len(payload)-got.Len()), testutil.ToFloat64(m.droppedBytes))
}

func TestConnWriteQueuesShortWriteTail(t *testing.T) {
	m := NewMetrics()
	p := newTestPoll(t, PollOptions{Metrics: m, QueuePartialWrites: true})
	conn, peer := attach(t, p)

	payload := bytes.Repeat([]byte("x"), 4<<20)
	require.NoError(t, conn.Write(payload))
	require.Greater(t, conn.Len(), 0)
	assert.Equal(t, uint32(readWriteEvents), p.interest(conn.Fd()))

	// later responses queue up behind the pending one
	pending := conn.Len()
	require.NoError(t, conn.Write([]byte("tail")))
	assert.Equal(t, pending+4, conn.Len())

	var got bytes.Buffer
	for i := 0; conn.Len() > 0; i++ {
		require.Less(t, i, 10000, "pending bytes never drained")
		drain(t, peer, &got)
		require.NoError(t, p.handleWrite(conn))
	}
	drain(t, peer, &got)

	assert.Equal(t, len(payload)+4, got.Len())
	assert.True(t, bytes.HasSuffix(got.Bytes(), []byte("xtail")))
	assert.Equal(t, uint32(readEvents), p.interest(conn.Fd()))
	assert.Zero(t, testutil.ToFloat64(m.droppedBytes))
}

func TestConnWriteSkipsBlankResponse(t *testing.T) {
	p := newTestPoll(t, PollOptions{})
	conn, peer := attach(t, p)

	require.NoError(t, conn.Write([]byte("  \n")))

	var got bytes.Buffer
	drain(t, peer, &got)
	assert.Zero(t, got.Len())
}

func TestCloseGracefullyClosesConnections(t *testing.T) {
	p := newTestPoll(t, PollOptions{})
	conn, _ := attach(t, p)
	other, _ := attach(t, p)
	require.EqualValues(t, 2, p.ConnCount())

	require.NoError(t, p.CloseGracefully())
	assert.Zero(t, p.ConnCount())
	assert.Zero(t, p.Len())
	assert.False(t, fdOpen(conn.Fd()))
	assert.False(t, fdOpen(other.Fd()))

	// idempotent, and waking a closed loop is a no-op
	assert.NoError(t, p.CloseGracefully())
	assert.NoError(t, p.wake())
}

func TestConnCloseTwiceLeavesReusedFdAlone(t *testing.T) {
	p := newTestPoll(t, PollOptions{})
	conn, _ := attach(t, p)
	fd := conn.Fd()

	require.NoError(t, conn.Close())
	assert.False(t, fdOpen(fd))

	// usually the freed number comes straight back
	a, b := socketPair(t)
	defer unix.Close(a)
	defer unix.Close(b)
	if a != fd && b != fd {
		t.Logf("fd %d not reused by %d/%d", fd, a, b)
	}

	require.NoError(t, conn.Close())
	assert.True(t, fdOpen(a))
	assert.True(t, fdOpen(b))
}
