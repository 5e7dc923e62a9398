package node

import (
	"context"
	"sync"
	"time"

	"github.com/fzft/go-time-server/config"
)

// PollOptions tunes the event loop.
type PollOptions struct {
	WaitTimeout        time.Duration
	MaxEvents          int
	ReadBufferSize     int
	QueuePartialWrites bool
	Handler            ReaderHandler
	Metrics            *Metrics
}

func (o PollOptions) withDefaults() PollOptions {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = time.Duration(config.DefaultWaitTimeoutMs) * time.Millisecond
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = config.DefaultMaxEvents
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = config.DefaultReadBufferSize
	}
	if o.Handler == nil {
		o.Handler = NewTimeHandler(o.Metrics)
	}
	return o
}

// Reactor runs a Poll on the caller's goroutine and lets other goroutines stop it.
type Reactor struct {
	poll *Poll

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	stopped  bool
	finished bool
	done     chan struct{}
}

func NewReactor(lnFd int, opts PollOptions) (*Reactor, error) {
	poll, err := NewPoll(lnFd, opts)
	if err != nil {
		return nil, err
	}

	return &Reactor{
		poll: poll,
		done: make(chan struct{}),
	}, nil
}

// Run blocks until ctx is done, Stop is called or a fatal error occurs.
// Every socket the loop owns is closed before Run returns.
func (r *Reactor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrServerRunning
	}
	if r.finished {
		r.mu.Unlock()
		return ErrServerClosed
	}
	r.running = true
	r.cancel = cancel
	if r.stopped {
		cancel()
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.finished = true
		r.mu.Unlock()
		close(r.done)
	}()

	// Cancellation is seen within one wait timeout anyway, the wake-up only
	// makes it prompt.
	stopWake := context.AfterFunc(ctx, func() { _ = r.poll.wake() })
	defer stopWake()

	return r.poll.poll(ctx)
}

// Stop asks the loop to exit. It does not wait, see Done.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed once Run has returned.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) ConnCount() int64 {
	return r.poll.ConnCount()
}

// Close releases the loop's fds when Run was never called. Run afterwards
// returns ErrServerClosed.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.Stop()
		<-r.done
		return nil
	}
	if r.finished {
		r.mu.Unlock()
		return nil
	}
	r.finished = true
	r.mu.Unlock()

	close(r.done)
	return r.poll.CloseGracefully()
}
