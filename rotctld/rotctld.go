package rotctld

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/unwind/rotator"
)

// DefaultAddr is where hamlib's rotctld listens unless told otherwise.
const DefaultAddr = "localhost:4533"

// Link is a client for the hamlib rotctld line protocol.
// Protocol docs at https://hamlib.sourceforge.net/html/rotctld.1.html
//
// A Link owns its connection; it is not safe for concurrent use.
type Link struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	// limit, if set, caps every per-command deadline.
	limit time.Time
}

// Dial connects to rotctld at addr. Every subsequent call on the Link is
// bounded by timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Link, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	return New(conn, timeout), nil
}

// New wraps an already open connection.
func New(conn net.Conn, timeout time.Duration) *Link {
	return &Link{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (l *Link) Close() error {
	return l.conn.Close()
}

// SetDeadline bounds all later commands by t on top of the per-command
// timeout. A zero t removes the bound.
func (l *Link) SetDeadline(t time.Time) {
	l.limit = t
}

func (l *Link) send(cmd string) error {
	deadline := time.Now().Add(l.timeout)
	if !l.limit.IsZero() && l.limit.Before(deadline) {
		deadline = l.limit
	}
	if err := l.conn.SetDeadline(deadline); err != nil {
		return ioError(cmd, err)
	}
	if _, err := l.conn.Write([]byte(cmd + "\n")); err != nil {
		return ioError(cmd, err)
	}
	return nil
}

func (l *Link) readLine(cmd string) (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return "", &TimeoutError{Cmd: cmd, Err: err}
		}
		return "", &ProtocolError{Cmd: cmd, Reply: strings.TrimSpace(line), Err: err}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readValue reads the next value line, skipping over the RPRT status lines
// that rotctld sends in response to commands we don't wait on.
func (l *Link) readValue(cmd string) (string, error) {
	for {
		line, err := l.readLine(cmd)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(line, "RPRT") {
			return line, nil
		}
		code, err := strconv.Atoi(strings.TrimSpace(line[len("RPRT"):]))
		if err != nil {
			return "", &ProtocolError{Cmd: cmd, Reply: line, Err: err}
		}
		if code != 0 {
			return "", &ProtocolError{Cmd: cmd, Reply: line, Err: fmt.Errorf("previous command failed with code %d", code)}
		}
	}
}

func (l *Link) readFloat(cmd string) (float64, error) {
	line, err := l.readValue(cmd)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, &ProtocolError{Cmd: cmd, Reply: line, Err: err}
	}
	// ParseFloat accepts "nan" and "inf", which no rotator can be at.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ProtocolError{Cmd: cmd, Reply: line, Err: errors.New("not a finite angle")}
	}
	return f, nil
}

// Position queries the absolute azimuth and elevation.
func (l *Link) Position() (rotator.Position, error) {
	var pos rotator.Position
	if err := l.send("p"); err != nil {
		return pos, err
	}
	for _, dest := range []*float64{&pos.Azimuth, &pos.Elevation} {
		f, err := l.readFloat("p")
		if err != nil {
			return rotator.Position{}, err
		}
		*dest = f
	}
	return pos, nil
}

// SetPosition commands a move. It returns as soon as the command is written;
// the rotator moves asynchronously and the reply is consumed by the next query.
func (l *Link) SetPosition(pos rotator.Position) error {
	return l.send(FormatSetPosition(pos))
}

// FormatSetPosition renders the P command for pos.
func FormatSetPosition(pos rotator.Position) string {
	return fmt.Sprintf("P %3.1f %2.1f", pos.Azimuth, pos.Elevation)
}

// Model asks rotctld which backend it is driving.
func (l *Link) Model() (string, error) {
	if err := l.send("_"); err != nil {
		return "", err
	}
	model, err := l.readValue("_")
	if err != nil {
		return "", err
	}
	if model == "" {
		return "", &ProtocolError{Cmd: "_", Err: errors.New("empty model name")}
	}
	return model, nil
}

// Stop halts any movement in progress.
func (l *Link) Stop() error {
	return l.send("S")
}
