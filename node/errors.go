package node

import (
	"errors"
	"fmt"
)

var (
	ErrServerNotStarted    = errors.New("server not started")
	ErrServerRunning       = errors.New("server already running")
	ErrServerClosed        = errors.New("server closed")
	ErrUnsupportedPlatform = errors.New("readiness loop needs linux epoll")
)

// FatalError stops the event loop. Anything else returned while handling a
// single registration only costs that connection.
type FatalError struct {
	Fd  int
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error on fd %d: %v", e.Fd, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks err as fatal for the loop.
func Fatal(fd int, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Fd: fd, Err: err}
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
