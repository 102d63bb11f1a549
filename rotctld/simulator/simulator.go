// Package simulator implements a rotctld-speaking rotator with an overwind
// range and hard travel limits. Like a real SPID controller it resolves every
// commanded azimuth to the nearest equivalent angle, so a large jump can drive
// it into a limit.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/unwind/rotator"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// MinAzimuth and MaxAzimuth are the travel limits, in absolute degrees.
	MinAzimuth, MaxAzimuth float64
	// Velocity in degrees/second. Zero moves instantly.
	Velocity float64
	Model    string
	// Verbose logs every command and reply.
	Verbose bool
}

func DefaultConfig() Config {
	return Config{
		MinAzimuth: -180,
		MaxAzimuth: 540,
		Velocity:   6,
		Model:      "Simulated SPID",
	}
}

type Status struct {
	AzPos, ElPos               float64
	CommandAzPos, CommandElPos float64
	Moving                     bool
	// LimitHits counts commands whose nearest path ran past a travel limit.
	LimitHits int
	// Moves counts accepted P commands.
	Moves int
}

func (s Status) Position() rotator.Position {
	return rotator.Position{Azimuth: s.AzPos, Elevation: s.ElPos}
}

type StatusCallback func(status Status)

type Simulator struct {
	cfg            Config
	statusCallback StatusCallback

	mu     sync.Mutex
	status Status
}

const (
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
	// Replies queued per connection before the reader blocks
	replyBuffer = 64
)

func New(cfg Config, start rotator.Position, statusCallback StatusCallback) *Simulator {
	return &Simulator{
		cfg:            cfg,
		statusCallback: statusCallback,
		status: Status{
			AzPos:        start.Azimuth,
			ElPos:        start.Elevation,
			CommandAzPos: start.Azimuth,
			CommandElPos: start.Elevation,
		},
	}
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// notifyStatus must be called without s.mu held.
func (s *Simulator) notifyStatus() {
	if s.statusCallback == nil {
		return
	}
	s.statusCallback(s.Status())
}

// Serve accepts rotctld connections on ln until ctx is canceled.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		return s.Run(ctx)
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("accepting: %w", err)
			}
			log.Printf("accepted connection from %v", conn.RemoteAddr())
			go func() {
				if err := s.ServeConn(ctx, conn); err != nil && ctx.Err() == nil {
					log.Printf("serving %v: %v", conn.RemoteAddr(), err)
				}
			}()
		}
	})
	return g.Wait()
}

// Run advances the simulated motion until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if s.step() {
			s.notifyStatus()
		}
	}
}

// approach moves pos toward target by at most maxDelta.
func approach(pos, target, maxDelta float64) float64 {
	delta := target - pos
	if math.Abs(delta) <= maxDelta {
		return target
	}
	if delta < 0 {
		return pos - maxDelta
	}
	return pos + maxDelta
}

func (s *Simulator) step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.status
	maxDelta := s.cfg.Velocity * stepSize.Seconds()
	s.status.AzPos = approach(s.status.AzPos, s.status.CommandAzPos, maxDelta)
	s.status.ElPos = approach(s.status.ElPos, s.status.CommandElPos, maxDelta)
	s.status.Moving = s.status.AzPos != s.status.CommandAzPos || s.status.ElPos != s.status.CommandElPos
	return old != s.status
}

// ServeConn speaks rotctld on conn until the peer hangs up.
func (s *Simulator) ServeConn(ctx context.Context, conn io.ReadWriteCloser) error {
	defer conn.Close()
	replies := make(chan string, replyBuffer)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		defer close(replies)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			cmd := scanner.Text()
			reply := s.Handle(cmd)
			if s.cfg.Verbose {
				log.Printf("rotctld command: %q reply: %q", cmd, reply)
			}
			if reply == "" {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading: %w", err)
		}
		return io.EOF
	})
	g.Go(func() error {
		for reply := range replies {
			if _, err := io.WriteString(conn, reply); err != nil {
				return err
			}
		}
		return nil
	})
	err := g.Wait()
	if err == io.EOF {
		return nil
	}
	return err
}

// Handle executes a single command line and returns the full reply text.
func (s *Simulator) Handle(line string) string {
	// Two forms of command: single character, or "+\" followed by command name.
	var (
		cmd      string
		args     []string
		extended bool
		out      strings.Builder
	)
	if len(line) == 0 {
		return ""
	} else if len(line) > 2 && line[0:2] == `+\` {
		extended = true
		parts := strings.Fields(line)
		cmd = parts[0][2:]
		args = parts[1:]
		fmt.Fprintf(&out, "%s:\n", cmd)
	} else {
		// Space after command is optional.
		if len(line) > 1 {
			args = strings.Fields(line[1:])
		}
		cmd = string(line[0])
	}
	rprt := -1
	switch cmd {
	case "_", "get_info":
		fmt.Fprintf(&out, "%s\n", s.cfg.Model)
		rprt = 0
	case "1", "dump_caps":
		fmt.Fprintf(&out, `Model name: %s
Rot type: Az-El
Min Azimuth: %.2f
Max Azimuth: %.2f
Min Elevation: 0.00
Max Elevation: 90.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
`, s.cfg.Model, s.cfg.MinAzimuth, s.cfg.MaxAzimuth)
		rprt = 0
	case "S", "stop":
		extended = true // always print RPRT
		s.stop()
		rprt = 0
	case "P", "set_pos":
		extended = true // always print RPRT
		if len(args) != 2 {
			rprt = -1
			break
		}
		az, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			rprt = -1
			break
		}
		el, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			rprt = -1
			break
		}
		s.setPosition(az, el)
		rprt = 0
	case "p", "get_pos":
		pos := s.Status().Position()
		if extended {
			fmt.Fprintf(&out, "Azimuth: %.6f\nElevation: %.6f\n", pos.Azimuth, pos.Elevation)
		} else {
			fmt.Fprintf(&out, "%.6f\n%.6f\n", pos.Azimuth, pos.Elevation)
		}
		rprt = 0
	}
	if extended || rprt != 0 {
		fmt.Fprintf(&out, "RPRT %d\n", rprt)
	}
	return out.String()
}

// resolveAzimuth picks the absolute azimuth nearest to current that is
// equivalent to az modulo 360. It reports whether that path leaves the
// travel range, in which case the result is clamped to the limit.
func resolveAzimuth(current, az, min, max float64) (float64, bool) {
	target := current + math.Remainder(az-current, 360)
	if target > max {
		return max, true
	} else if target < min {
		return min, true
	}
	return target, false
}

func (s *Simulator) setPosition(az, el float64) {
	s.mu.Lock()
	target, hit := resolveAzimuth(s.status.AzPos, az, s.cfg.MinAzimuth, s.cfg.MaxAzimuth)
	if hit {
		log.Printf("commanded azimuth %.1f from %.1f runs into a travel limit", az, s.status.AzPos)
		s.status.LimitHits++
	}
	s.status.CommandAzPos = target
	s.status.CommandElPos = rotator.ClampElevation(el)
	s.status.Moves++
	if s.cfg.Velocity <= 0 {
		s.status.AzPos = s.status.CommandAzPos
		s.status.ElPos = s.status.CommandElPos
	}
	s.mu.Unlock()
	s.notifyStatus()
}

func (s *Simulator) stop() {
	s.mu.Lock()
	s.status.CommandAzPos = s.status.AzPos
	s.status.CommandElPos = s.status.ElPos
	s.mu.Unlock()
	s.notifyStatus()
}
