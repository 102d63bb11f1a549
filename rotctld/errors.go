package rotctld

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ConnectionError means the daemon could not be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to rotctld at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError means the daemon sent something we could not understand,
// refused a command, or dropped the connection mid-exchange.
type ProtocolError struct {
	Cmd   string
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Reply != "" {
		return fmt.Sprintf("rotctld %q: bad reply %q: %v", e.Cmd, e.Reply, e.Err)
	}
	return fmt.Sprintf("rotctld %q: %v", e.Cmd, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError means a single read or write exceeded the I/O timeout.
type TimeoutError struct {
	Cmd string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rotctld %q: timed out: %v", e.Cmd, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ioError classifies a transport error for cmd.
func ioError(cmd string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Cmd: cmd, Err: err}
	}
	return &ProtocolError{Cmd: cmd, Err: err}
}
