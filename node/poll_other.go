//go:build !linux
// +build !linux

package node

import (
	"context"
	"net"
)

// Poll is only implemented on linux.
type Poll struct{}

func NewPoll(lnFd int, opts PollOptions) (*Poll, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *Poll) poll(ctx context.Context) error { return ErrUnsupportedPlatform }

func (p *Poll) wake() error { return nil }

func (p *Poll) ConnCount() int64 { return 0 }

func (p *Poll) CloseGracefully() error { return nil }

func listenTCP(host string, port, backlog int) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupportedPlatform
}

func CloseFd(fd int) error { return nil }
