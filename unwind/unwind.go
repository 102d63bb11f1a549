// Package unwind drives a rotator to an absolute position, possibly inside its
// overwind region, using only a controller that moves along the shortest path
// to whatever it is told. Each command differs from the measured position by at
// most Config.StepSize per axis, so the controller's shortest path is always
// the direct one and never runs into a travel limit.
//
// Only one Unwinder may drive a given controller at a time.
package unwind

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/w1xm/unwind/rotator"
)

var (
	// ErrRunTimedOut is returned when the homing timeout passes before the
	// rotator reaches its target. The rotator is left where it last was.
	ErrRunTimedOut = errors.New("homing timeout reached before target")
	// ErrPreconditionFailed is returned when the next pass starts too soon
	// to move safely. No move is issued.
	ErrPreconditionFailed = errors.New("next pass is too close to move")
)

type State int

const (
	Idle State = iota
	Stepping
	Converged
	TimedOut
	Failed
	PreconditionFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Stepping:
		return "STEPPING"
	case Converged:
		return "CONVERGED"
	case TimedOut:
		return "TIMED_OUT"
	case Failed:
		return "FAILED"
	case PreconditionFailed:
		return "PRECONDITION_FAILED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Config struct {
	// StepSize is the largest move, in degrees per axis, sent in one command.
	// It must be below 180 and below the margin to the nearest travel limit.
	StepSize float64
	// Tolerance is how close, in degrees per axis, counts as arrived.
	Tolerance float64
	// SettleInterval is how long to let the rotator move before polling.
	SettleInterval time.Duration
	// HomingTimeout bounds the whole run.
	HomingTimeout time.Duration
	// WrapAzimuth folds commanded azimuths into [0, 360) for controllers
	// that only accept nominal angles.
	WrapAzimuth bool
	// ClampElevation limits commanded elevations to [0, 90].
	ClampElevation bool
}

func DefaultConfig() Config {
	return Config{
		StepSize:       90,
		Tolerance:      0.5,
		SettleInterval: 3 * time.Second,
		HomingTimeout:  180 * time.Second,
		WrapAzimuth:    true,
		ClampElevation: true,
	}
}

func (c Config) Validate() error {
	if !(c.StepSize > 0 && c.StepSize < 180) {
		return fmt.Errorf("step size must be in (0, 180), got %v", c.StepSize)
	}
	if !(c.Tolerance >= 0) {
		return fmt.Errorf("tolerance must be >= 0, got %v", c.Tolerance)
	}
	if c.HomingTimeout <= 0 {
		return fmt.Errorf("homing timeout must be > 0, got %v", c.HomingTimeout)
	}
	if c.SettleInterval < 0 {
		return fmt.Errorf("settle interval must be >= 0, got %v", c.SettleInterval)
	}
	return nil
}

// Status is reported after every position poll.
type Status struct {
	State    State            `json:"state"`
	Position rotator.Position `json:"position"`
	Target   rotator.Position `json:"target"`
	// Next is the absolute position just commanded, if any.
	Next    rotator.Position `json:"next"`
	Steps   int              `json:"steps"`
	Elapsed time.Duration    `json:"elapsed"`
}

type StatusCallback func(status Status)

type Result struct {
	State State            `json:"state"`
	Final rotator.Position `json:"final"`
	// Steps counts move commands issued; Polls counts confirmed positions.
	Steps   int           `json:"steps"`
	Polls   int           `json:"polls"`
	Elapsed time.Duration `json:"elapsed"`
}

type Unwinder struct {
	link           rotator.Link
	cfg            Config
	statusCallback StatusCallback
	now            func() time.Time
}

// New returns an Unwinder that owns link for the duration of its runs.
// statusCallback may be nil.
func New(link rotator.Link, cfg Config, statusCallback StatusCallback) *Unwinder {
	return &Unwinder{
		link:           link,
		cfg:            cfg,
		statusCallback: statusCallback,
		now:            time.Now,
	}
}

func (u *Unwinder) notifyStatus(status Status) {
	if u.statusCallback != nil {
		u.statusCallback(status)
	}
}

// command converts an absolute position into what the controller is sent.
func (u *Unwinder) command(pos rotator.Position) rotator.Position {
	if u.cfg.WrapAzimuth {
		pos.Azimuth = rotator.NominalAzimuth(pos.Azimuth)
	}
	if u.cfg.ClampElevation {
		pos.Elevation = rotator.ClampElevation(pos.Elevation)
	}
	return pos
}

// Run steps the rotator toward target until it is within tolerance, the
// homing timeout passes, or the link fails. Errors are not retried.
func (u *Unwinder) Run(ctx context.Context, target rotator.Position) (Result, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, u.cfg.HomingTimeout)
	defer cancel()

	start := u.now()
	res := Result{State: Stepping}
	status := Status{State: Stepping, Target: target}
	finish := func(state State, err error) (Result, error) {
		res.State = state
		res.Elapsed = u.now().Sub(start)
		status.State = state
		status.Elapsed = res.Elapsed
		u.notifyStatus(status)
		log.Printf("Unwind %s after %d steps in %.1f seconds at %v", state, res.Steps, res.Elapsed.Seconds(), res.Final)
		return res, err
	}
	expired := func() (Result, error) {
		if err := parent.Err(); err != nil {
			return finish(Failed, err)
		}
		return finish(TimedOut, fmt.Errorf("%w (%v)", ErrRunTimedOut, u.cfg.HomingTimeout))
	}
	// Link I/O stops at the homing deadline too, so a silent controller
	// cannot hold the run past it.
	deadline, _ := ctx.Deadline()
	if d, ok := u.link.(rotator.Deadliner); ok {
		d.SetDeadline(deadline)
		defer d.SetDeadline(time.Time{})
	}
	linkFailed := func(err error) (Result, error) {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return expired()
		}
		return finish(Failed, err)
	}

	if !target.Finite() {
		return finish(Failed, fmt.Errorf("target %v is not a finite position", target))
	}
	log.Printf("Attempting to move to target position: %v", target)
	for {
		if ctx.Err() != nil {
			return expired()
		}
		pos, err := u.link.Position()
		if err != nil {
			return linkFailed(fmt.Errorf("reading position: %w", err))
		}
		if !pos.Finite() {
			return finish(Failed, fmt.Errorf("rotator reported %v", pos))
		}
		res.Polls++
		res.Final = pos
		status.Position = pos
		status.Elapsed = u.now().Sub(start)
		if pos.Within(target, u.cfg.Tolerance) {
			return finish(Converged, nil)
		}
		if ctx.Err() != nil {
			return expired()
		}

		// Always plan from the measured position, so an imprecise move
		// is corrected on the next step.
		next := Next(pos, target, u.cfg.StepSize)
		cmd := u.command(next)
		log.Printf("Current position: %v; moving to %v (commanding %v)", pos, next, cmd)
		if err := u.link.SetPosition(cmd); err != nil {
			return linkFailed(fmt.Errorf("commanding %v: %w", cmd, err))
		}
		res.Steps++
		status.Next = next
		status.Steps = res.Steps
		u.notifyStatus(status)

		select {
		case <-ctx.Done():
		case <-time.After(u.cfg.SettleInterval):
		}
	}
}

// CheckLeadTime returns ErrPreconditionFailed if a pass starting at start
// leaves less than movementTimeout to move.
func CheckLeadTime(start, now time.Time, movementTimeout time.Duration) error {
	if lead := start.Sub(now); lead < movementTimeout {
		return fmt.Errorf("%w: starts in %v, need %v", ErrPreconditionFailed, lead.Round(time.Second), movementTimeout)
	}
	return nil
}

// Pass is the start of an upcoming observation.
type Pass struct {
	rotator.Position
	Start time.Time
	// Name identifies the pass in logs.
	Name string
}

// PassFinder looks up the next pass. A nil pass means none is scheduled.
type PassFinder interface {
	NextPass(ctx context.Context) (*Pass, error)
}

// ResolveTarget returns the start of the next pass found by finder, or home
// if there is none or the lookup fails. If the pass starts sooner than
// movementTimeout after now, it returns ErrPreconditionFailed along with the
// pass position. finder may be nil.
func ResolveTarget(ctx context.Context, home rotator.Position, finder PassFinder, now time.Time, movementTimeout time.Duration) (rotator.Position, error) {
	if finder == nil {
		return home, nil
	}
	pass, err := finder.NextPass(ctx)
	switch {
	case err != nil:
		log.Printf("Error getting next observation info - %v; using home position.", err)
		return home, nil
	case pass == nil:
		log.Print("No observations scheduled, using home position.")
		return home, nil
	}
	if err := CheckLeadTime(pass.Start, now, movementTimeout); err != nil {
		log.Printf("Next observation %s: %v. Not enough time to move.", pass.Name, err)
		return pass.Position, err
	}
	log.Printf("Next observation %s starts at %v; moving to %v", pass.Name, pass.Start, pass.Position)
	return pass.Position, nil
}

// Home moves the rotator to the start of the next pass, or to home if there
// is none. If the pass is too close no move is made and ErrPreconditionFailed
// is returned.
func (u *Unwinder) Home(ctx context.Context, home rotator.Position, finder PassFinder, movementTimeout time.Duration) (Result, error) {
	target, err := ResolveTarget(ctx, home, finder, u.now(), movementTimeout)
	if err != nil {
		u.notifyStatus(Status{State: PreconditionFailed, Target: target})
		return Result{State: PreconditionFailed}, err
	}
	return u.Run(ctx, target)
}
