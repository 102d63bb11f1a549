package unwind

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/unwind/rotator"
	"github.com/w1xm/unwind/rotctld"
	"github.com/w1xm/unwind/rotctld/simulator"
)

// fakeLink is a controller that moves along the shortest path to each
// commanded nominal azimuth, like a SPID controller does.
type fakeLink struct {
	pos   rotator.Position
	moves []rotator.Position
	polls int
	// stuck ignores every move.
	stuck bool
	// overshoot is added to the azimuth of the first move only.
	overshoot float64
	// failPoll fails the poll with this index (1-based) if non-zero.
	failPoll int
}

var errUnplugged = errors.New("unplugged")

func (f *fakeLink) Position() (rotator.Position, error) {
	f.polls++
	if f.polls == f.failPoll {
		return rotator.Position{}, errUnplugged
	}
	return f.pos, nil
}

func (f *fakeLink) SetPosition(cmd rotator.Position) error {
	f.moves = append(f.moves, cmd)
	if f.stuck {
		return nil
	}
	f.pos.Azimuth += math.Remainder(cmd.Azimuth-f.pos.Azimuth, 360)
	f.pos.Elevation = cmd.Elevation
	if len(f.moves) == 1 {
		f.pos.Azimuth += f.overshoot
	}
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleInterval = time.Millisecond
	cfg.HomingTimeout = 5 * time.Second
	return cfg
}

func TestRunSimulator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := simulator.New(simulator.Config{MinAzimuth: -180, MaxAzimuth: 540, Model: "sim"}, pos(-90, 0), nil)
	a, b := net.Pipe()
	go sim.ServeConn(ctx, a)
	link := rotctld.New(b, time.Second)
	defer link.Close()

	var visited []rotator.Position
	u := New(link, testConfig(), func(status Status) {
		if status.State == Stepping {
			visited = append(visited, status.Next)
		}
	})
	res, err := u.Run(ctx, pos(270, 10))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != Converged || res.Steps != 4 || res.Polls != 5 {
		t.Errorf("Run = %+v; want CONVERGED after 4 steps and 5 polls", res)
	}
	want := []rotator.Position{pos(0, 10), pos(90, 10), pos(180, 10), pos(270, 10)}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("unexpected steps: (-want +got):\n%s", diff)
	}
	status := sim.Status()
	if status.LimitHits != 0 {
		t.Errorf("controller hit a travel limit %d times", status.LimitHits)
	}
	if got := status.Position(); got != pos(270, 10) {
		t.Errorf("simulator ended at %v", got)
	}
}

func TestRunCommandsNominalAzimuth(t *testing.T) {
	link := &fakeLink{pos: pos(500, 20)}
	u := New(link, testConfig(), nil)
	res, err := u.Run(context.Background(), pos(0, 0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != Converged || res.Final != pos(0, 0) {
		t.Errorf("Run = %+v", res)
	}
	// 500 -> 410 -> 320 -> 230 -> 140 -> 50 -> 0
	want := []rotator.Position{pos(50, 0), pos(320, 0), pos(230, 0), pos(140, 0), pos(50, 0), pos(0, 0)}
	if diff := cmp.Diff(want, link.moves); diff != "" {
		t.Errorf("unexpected commands: (-want +got):\n%s", diff)
	}
}

func TestRunConvergenceSteps(t *testing.T) {
	for _, test := range []struct {
		start, target rotator.Position
		step          float64
	}{
		{pos(-180, 0), pos(540, 0), 90},
		{pos(540, 90), pos(-180, 0), 45},
		{pos(0, 0), pos(359, 0), 10},
		{pos(200, 0), pos(-170, 45), 60},
	} {
		link := &fakeLink{pos: test.start}
		cfg := testConfig()
		cfg.StepSize = test.step
		res, err := New(link, cfg, nil).Run(context.Background(), test.target)
		if err != nil {
			t.Errorf("%v -> %v: %v", test.start, test.target, err)
			continue
		}
		want := int(math.Ceil(math.Abs(test.target.Azimuth-test.start.Azimuth) / test.step))
		if res.Steps != want {
			t.Errorf("%v -> %v: %d steps, want %d", test.start, test.target, res.Steps, want)
		}
		if !res.Final.Within(test.target, cfg.Tolerance) {
			t.Errorf("%v -> %v: ended at %v", test.start, test.target, res.Final)
		}
	}
}

func TestRunTimesOut(t *testing.T) {
	link := &fakeLink{pos: pos(0, 0), stuck: true}
	cfg := testConfig()
	cfg.SettleInterval = 10 * time.Millisecond
	cfg.HomingTimeout = 100 * time.Millisecond
	start := time.Now()
	res, err := New(link, cfg, nil).Run(context.Background(), pos(180, 0))
	if !errors.Is(err, ErrRunTimedOut) {
		t.Fatalf("Run error = %v, want ErrRunTimedOut", err)
	}
	if res.State != TimedOut {
		t.Errorf("State = %v, want TIMED_OUT", res.State)
	}
	if elapsed := time.Since(start); elapsed > cfg.HomingTimeout+time.Second {
		t.Errorf("Run took %v", elapsed)
	}
	if res.Final != pos(0, 0) {
		t.Errorf("Final = %v, want last confirmed position", res.Final)
	}
}

func TestRunSilentController(t *testing.T) {
	// The controller swallows commands and never answers. The I/O timeout is
	// far longer than the homing timeout, which must still win.
	a, b := net.Pipe()
	go io.Copy(io.Discard, a)
	link := rotctld.New(b, 5*time.Second)
	defer link.Close()
	cfg := testConfig()
	cfg.HomingTimeout = 100 * time.Millisecond
	start := time.Now()
	res, err := New(link, cfg, nil).Run(context.Background(), pos(90, 0))
	if !errors.Is(err, ErrRunTimedOut) || res.State != TimedOut {
		t.Errorf("Run = %v, %v; want TIMED_OUT", res.State, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v", elapsed)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(&fakeLink{}, testConfig(), nil).Run(ctx, pos(90, 0))
	if !errors.Is(err, context.Canceled) || res.State != Failed {
		t.Errorf("Run = %v, %v; want FAILED, context.Canceled", res.State, err)
	}
}

func TestRunLinkFailure(t *testing.T) {
	link := &fakeLink{pos: pos(0, 0), failPoll: 2}
	res, err := New(link, testConfig(), nil).Run(context.Background(), pos(270, 0))
	if !errors.Is(err, errUnplugged) {
		t.Fatalf("Run error = %v, want %v", err, errUnplugged)
	}
	if res.State != Failed || len(link.moves) != 1 || link.polls != 2 {
		t.Errorf("Run = %+v after %d moves and %d polls; want FAILED after 1 move, 2 polls", res, len(link.moves), link.polls)
	}
}

func TestRunProtocolFailure(t *testing.T) {
	a, b := net.Pipe()
	go func() {
		buf := make([]byte, 64)
		a.Read(buf)
		a.Write([]byte("garbage\n0\n"))
		a.Close()
	}()
	link := rotctld.New(b, time.Second)
	defer link.Close()
	res, err := New(link, testConfig(), nil).Run(context.Background(), pos(90, 0))
	var perr *rotctld.ProtocolError
	if !errors.As(err, &perr) || res.State != Failed {
		t.Errorf("Run = %v, %v; want FAILED with ProtocolError", res.State, err)
	}
}

func TestRunOvershoot(t *testing.T) {
	link := &fakeLink{pos: pos(0, 0), overshoot: 5}
	res, err := New(link, testConfig(), nil).Run(context.Background(), pos(120, 0))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// 0 -> 95 (overshot) -> 120
	want := []rotator.Position{pos(90, 0), pos(120, 0)}
	if diff := cmp.Diff(want, link.moves); diff != "" {
		t.Errorf("unexpected commands: (-want +got):\n%s", diff)
	}
	if res.State != Converged {
		t.Errorf("State = %v", res.State)
	}
}

func TestRunAlreadyThere(t *testing.T) {
	link := &fakeLink{pos: pos(90.2, 0.3)}
	res, err := New(link, testConfig(), nil).Run(context.Background(), pos(90, 0))
	if err != nil || res.State != Converged || len(link.moves) != 0 {
		t.Errorf("Run = %+v, %v with %d moves; want CONVERGED without moving", res, err, len(link.moves))
	}
}

func TestRunRejectsNonFinite(t *testing.T) {
	for _, test := range []struct {
		name          string
		start, target rotator.Position
		wantPolls     int
	}{
		{"nan target", pos(0, 0), pos(math.NaN(), 0), 0},
		{"infinite target", pos(0, 0), pos(math.Inf(1), 0), 0},
		{"nan reading", pos(math.NaN(), 0), pos(400, 0), 1},
		{"infinite reading", pos(0, math.Inf(-1)), pos(400, 0), 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			link := &fakeLink{pos: test.start}
			res, err := New(link, testConfig(), nil).Run(context.Background(), test.target)
			if err == nil || res.State != Failed {
				t.Fatalf("Run = %v, %v; want FAILED", res.State, err)
			}
			if len(link.moves) != 0 || link.polls != test.wantPolls {
				t.Errorf("%d moves and %d polls; want no moves and %d polls", len(link.moves), link.polls, test.wantPolls)
			}
		})
	}
}

type fakeFinder struct {
	pass *Pass
	err  error
}

func (f fakeFinder) NextPass(ctx context.Context) (*Pass, error) {
	return f.pass, f.err
}

func TestHome(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	home := pos(0, 0)
	for _, test := range []struct {
		name      string
		finder    PassFinder
		wantErr   error
		wantState State
		wantFinal rotator.Position
	}{
		{
			name:      "no finder",
			wantState: Converged,
			wantFinal: home,
		},
		{
			name:      "no pass",
			finder:    fakeFinder{},
			wantState: Converged,
			wantFinal: home,
		},
		{
			name:      "lookup failed",
			finder:    fakeFinder{err: errors.New("503")},
			wantState: Converged,
			wantFinal: home,
		},
		{
			name:      "pass later",
			finder:    fakeFinder{pass: &Pass{Position: pos(200, 0), Start: now.Add(time.Hour)}},
			wantState: Converged,
			wantFinal: pos(200, 0),
		},
		{
			name:      "pass imminent",
			finder:    fakeFinder{pass: &Pass{Position: pos(200, 0), Start: now.Add(time.Minute)}},
			wantErr:   ErrPreconditionFailed,
			wantState: PreconditionFailed,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			link := &fakeLink{pos: pos(-90, 0)}
			u := New(link, testConfig(), nil)
			u.now = func() time.Time { return now }
			res, err := u.Home(context.Background(), home, test.finder, 3*time.Minute)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Home error = %v, want %v", err, test.wantErr)
			}
			if res.State != test.wantState {
				t.Errorf("State = %v, want %v", res.State, test.wantState)
			}
			if test.wantState == PreconditionFailed {
				if len(link.moves) != 0 || link.polls != 0 {
					t.Errorf("touched the rotator: %d moves, %d polls", len(link.moves), link.polls)
				}
				return
			}
			if res.Final != test.wantFinal {
				t.Errorf("Final = %v, want %v", res.Final, test.wantFinal)
			}
		})
	}
}

func TestCheckLeadTime(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	for _, test := range []struct {
		start   time.Time
		wantErr bool
	}{
		{now.Add(-time.Minute), true},
		{now, true},
		{now.Add(179 * time.Second), true},
		{now.Add(180 * time.Second), false},
		{now.Add(time.Hour), false},
	} {
		err := CheckLeadTime(test.start, now, 180*time.Second)
		if got := errors.Is(err, ErrPreconditionFailed); got != test.wantErr {
			t.Errorf("CheckLeadTime(%v) = %v", test.start.Sub(now), err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero step", func(c *Config) { c.StepSize = 0 }, true},
		{"half turn step", func(c *Config) { c.StepSize = 180 }, true},
		{"negative tolerance", func(c *Config) { c.Tolerance = -1 }, true},
		{"no timeout", func(c *Config) { c.HomingTimeout = 0 }, true},
	} {
		cfg := DefaultConfig()
		test.mutate(&cfg)
		if err := cfg.Validate(); (err != nil) != test.wantErr {
			t.Errorf("%s: Validate() = %v", test.name, err)
		}
	}
}
