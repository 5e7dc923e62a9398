package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/fzft/go-time-server/config"
	"github.com/fzft/go-time-server/log"
)

type Server struct {
	conf    config.ServerConf
	handler ReaderHandler
	metrics *Metrics

	mu      sync.Mutex
	addr    *net.TCPAddr
	reactor *Reactor
}

func NewServer(conf config.ServerConf) *Server {
	return &Server{
		conf:    conf,
		metrics: NewMetrics(),
	}
}

// SetHandler replaces the time handler. It has to be called before Start.
func (s *Server) SetHandler(handler ReaderHandler) {
	s.handler = handler
}

// SetMetrics replaces the server collectors. It has to be called before Start.
func (s *Server) SetMetrics(m *Metrics) {
	s.metrics = m
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start binds the listening socket and prepares the event loop. Nothing is
// accepted until Run.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reactor != nil {
		return ErrServerRunning
	}

	lnFd, addr, err := listenTCP(s.conf.Addr, s.conf.Port, s.conf.Backlog)
	if err != nil {
		log.Logger.Error("listen error", zap.String("addr", s.conf.Addr), zap.Int("port", s.conf.Port), zap.Error(err))
		return fmt.Errorf("listen on port %d: %w", s.conf.Port, err)
	}

	reactor, err := NewReactor(lnFd, PollOptions{
		WaitTimeout:        s.conf.WaitTimeout(),
		MaxEvents:          s.conf.MaxEvents,
		ReadBufferSize:     s.conf.ReadBufferSize,
		QueuePartialWrites: s.conf.QueuePartialWrites,
		Handler:            s.handler,
		Metrics:            s.metrics,
	})
	if err != nil {
		_ = CloseFd(lnFd)
		return fmt.Errorf("create event loop: %w", err)
	}

	s.addr = addr
	s.reactor = reactor

	log.Logger.Info("server started", zap.Stringer("addr", addr), zap.Int("port", addr.Port))
	return nil
}

// Run drives the event loop on the calling goroutine until ctx is done or
// Stop is called. It returns nil on a normal stop and the error on a fatal one.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	reactor := s.reactor
	s.mu.Unlock()

	if reactor == nil {
		return ErrServerNotStarted
	}

	err := reactor.Run(ctx)
	log.Logger.Info("shutting down server", zap.Error(err))
	return err
}

// ListenAndServe is Start followed by Run.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Run(ctx)
}

// Stop asks the loop to exit. It returns immediately, use Done to wait.
func (s *Server) Stop() {
	s.mu.Lock()
	reactor := s.reactor
	s.mu.Unlock()

	if reactor != nil {
		reactor.Stop()
	}
}

// Done is closed when Run has returned. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reactor == nil {
		return nil
	}
	return s.reactor.Done()
}

// Close releases the listener of a server that was started but never run.
func (s *Server) Close() error {
	s.mu.Lock()
	reactor := s.reactor
	s.mu.Unlock()

	if reactor == nil {
		return nil
	}
	return reactor.Close()
}

// Addr is the bound listener address, nil before Start.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ConnCount is the number of registered client connections.
func (s *Server) ConnCount() int64 {
	s.mu.Lock()
	reactor := s.reactor
	s.mu.Unlock()

	if reactor == nil {
		return 0
	}
	return reactor.ConnCount()
}
