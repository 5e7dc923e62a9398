//go:build linux
// +build linux

package htime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fzft/go-time-server/config"
	"github.com/fzft/go-time-server/node"
	"github.com/fzft/go-time-server/proto"
)

func TestClientAgainstServer(t *testing.T) {
	conf := config.Default().Server
	conf.Addr = "127.0.0.1"
	conf.Port = 0
	conf.WaitTimeoutMs = 50

	s := node.NewServer(conf)
	require.NoError(t, s.Start())
	go func() { _ = s.Run(context.Background()) }()
	defer func() {
		s.Stop()
		<-s.Done()
	}()

	c, err := Dial(context.Background(), "127.0.0.1", s.Addr().Port, time.Second)
	require.NoError(t, err)
	defer c.Close()

	before := time.Now().Truncate(time.Second)
	ts, err := c.QueryTime(context.Background())
	require.NoError(t, err)
	assert.False(t, ts.Before(before))
	assert.WithinDuration(t, time.Now(), ts, 2*time.Second)

	reply, err := c.Do(context.Background(), "query time order")
	require.NoError(t, err)
	_, err = proto.ParseTime(reply)
	assert.NoError(t, err)

	reply, err = c.Do(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, proto.BadOrder, reply)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.ConnCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
