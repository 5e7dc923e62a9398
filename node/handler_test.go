package node

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fzft/go-time-server/proto"
)

type readResult struct {
	data []byte
	err  error
}

type TestConn struct {
	reads    []readResult
	Buffer   bytes.Buffer // buffer to capture output
	writeErr error
}

func (t *TestConn) Read() ([]byte, error) {
	if len(t.reads) == 0 {
		return nil, nil
	}
	r := t.reads[0]
	t.reads = t.reads[1:]
	return r.data, r.err
}

func (t *TestConn) Write(b []byte) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	_, err := t.Buffer.Write(b)
	return err
}

func (t *TestConn) Close() error { return nil }
func (t *TestConn) Fd() int      { return 0 }
func (t *TestConn) ID() string   { return "test" }
func (t *TestConn) Ip() string   { return "127.0.0.1:1" }

func fixedHandler(m *Metrics, now time.Time) *TimeHandler {
	h := NewTimeHandler(m)
	h.Now = func() time.Time { return now }
	return h
}

func TestTimeHandlerQueryTime(t *testing.T) {
	now := time.Date(2026, time.October, 18, 9, 41, 7, 0, time.UTC)
	m := NewMetrics()
	h := fixedHandler(m, now)

	for _, body := range []string{"QUERY TIME ORDER", "query time order", "Query Time Order\n"} {
		conn := &TestConn{reads: []readResult{{data: []byte(body)}}}

		outcome, err := h.OnReadable(conn)
		require.NoError(t, err)
		assert.Equal(t, OutcomeKeep, outcome)
		assert.Equal(t, "Sun Oct 18 09:41:07 UTC 2026", conn.Buffer.String())
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.orders.WithLabelValues("query_time")))
}

func TestTimeHandlerBadOrder(t *testing.T) {
	m := NewMetrics()
	h := NewTimeHandler(m)

	for _, body := range []string{"hello", "QUERY TIME", "QUERY TIME ORDER please"} {
		conn := &TestConn{reads: []readResult{{data: []byte(body)}}}

		outcome, err := h.OnReadable(conn)
		require.NoError(t, err)
		assert.Equal(t, OutcomeKeep, outcome)
		assert.Equal(t, proto.BadOrder, conn.Buffer.String())
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.orders.WithLabelValues("bad")))
}

func TestTimeHandlerNoData(t *testing.T) {
	conn := &TestConn{}

	outcome, err := NewTimeHandler(nil).OnReadable(conn)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKeep, outcome)
	assert.Zero(t, conn.Buffer.Len())
}

func TestTimeHandlerPeerClosed(t *testing.T) {
	conn := &TestConn{reads: []readResult{{err: io.EOF}}}

	outcome, err := NewTimeHandler(nil).OnReadable(conn)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClose, outcome)
	assert.Zero(t, conn.Buffer.Len())
}

func TestTimeHandlerIOErrors(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	conn := &TestConn{reads: []readResult{{err: readErr}}}

	outcome, err := NewTimeHandler(nil).OnReadable(conn)
	assert.ErrorIs(t, err, readErr)
	assert.False(t, IsFatal(err))
	assert.Equal(t, OutcomeClose, outcome)

	writeErr := errors.New("broken pipe")
	conn = &TestConn{reads: []readResult{{data: []byte("hello")}}, writeErr: writeErr}

	outcome, err = NewTimeHandler(nil).OnReadable(conn)
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, OutcomeClose, outcome)
}

func TestFatalError(t *testing.T) {
	cause := errors.New("bad fd")
	err := Fatal(7, cause)

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fd 7")
	assert.NoError(t, Fatal(7, nil))
	assert.False(t, IsFatal(cause))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "keep", OutcomeKeep.String())
	assert.Equal(t, "close", OutcomeClose.String())
}
