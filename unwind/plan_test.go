package unwind

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/unwind/rotator"
)

func pos(az, el float64) rotator.Position {
	return rotator.Position{Azimuth: az, Elevation: el}
}

func TestPlan(t *testing.T) {
	for _, test := range []struct {
		name            string
		current, target rotator.Position
		step            float64
		want            []rotator.Position
	}{
		{
			name:    "out of underwind",
			current: pos(-90, 0),
			target:  pos(270, 10),
			step:    90,
			want:    []rotator.Position{pos(0, 10), pos(90, 10), pos(180, 10), pos(270, 10)},
		},
		{
			name:    "out of overwind",
			current: pos(450, 30),
			target:  pos(0, 0),
			step:    90,
			want:    []rotator.Position{pos(360, 0), pos(270, 0), pos(180, 0), pos(90, 0), pos(0, 0)},
		},
		{
			name:    "within one step",
			current: pos(10, 10),
			target:  pos(40, 5),
			step:    90,
			want:    []rotator.Position{pos(40, 5)},
		},
		{
			name:    "elevation takes longer",
			current: pos(0, 0),
			target:  pos(10, 90),
			step:    30,
			want:    []rotator.Position{pos(10, 30), pos(10, 60), pos(10, 90)},
		},
		{
			name:    "already there",
			current: pos(123, 45),
			target:  pos(123, 45),
			step:    90,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got := Plan(test.current, test.target, test.step)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("unexpected plan: (-want +got):\n%s", diff)
			}
		})
	}
}

func between(x, a, b float64) bool {
	return math.Min(a, b) <= x && x <= math.Max(a, b)
}

func stepsNeeded(from, to, step float64) int {
	return int(math.Ceil(math.Abs(to-from) / step))
}

func TestPlanProperties(t *testing.T) {
	azimuths := []float64{-180, -90, -0.5, 0, 45.5, 180, 359, 360, 450, 540}
	elevations := []float64{0, 12.5, 90}
	steps := []float64{1, 7.5, 30, 45, 90, 179}
	for _, step := range steps {
		for _, fromAz := range azimuths {
			for _, toAz := range azimuths {
				for i, fromEl := range elevations {
					toEl := elevations[(i+1)%len(elevations)]
					current, target := pos(fromAz, fromEl), pos(toAz, toEl)
					name := fmt.Sprintf("%v->%v/%v", current, target, step)
					plan := Plan(current, target, step)

					want := stepsNeeded(fromAz, toAz, step)
					if n := stepsNeeded(fromEl, toEl, step); n > want {
						want = n
					}
					if len(plan) != want {
						t.Errorf("%s: %d steps, want %d", name, len(plan), want)
					}
					if len(plan) > 0 && plan[len(plan)-1] != target {
						t.Errorf("%s: ends at %v", name, plan[len(plan)-1])
					}

					prev := current
					for _, p := range plan {
						if math.Abs(p.Azimuth-prev.Azimuth) > step || math.Abs(p.Elevation-prev.Elevation) > step {
							t.Errorf("%s: step %v -> %v exceeds %v", name, prev, p, step)
						}
						// Monotonic: every point is between the previous one
						// and the target, so there is no overshoot or reversal.
						if !between(p.Azimuth, prev.Azimuth, target.Azimuth) || !between(p.Elevation, prev.Elevation, target.Elevation) {
							t.Errorf("%s: %v is not between %v and %v", name, p, prev, target)
						}
						prev = p
					}

					if diff := cmp.Diff(plan, Plan(current, target, step)); diff != "" {
						t.Errorf("%s: plan is not repeatable:\n%s", name, diff)
					}
				}
			}
		}
	}
}

func TestPlanRejectsZeroStep(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Plan with zero step did not panic")
		}
	}()
	Plan(pos(0, 0), pos(90, 0), 0)
}

func TestPlanRejectsNonFinite(t *testing.T) {
	for _, test := range []struct {
		name            string
		current, target rotator.Position
	}{
		{"nan target", pos(0, 0), pos(math.NaN(), 0)},
		{"infinite target", pos(0, 0), pos(math.Inf(1), 0)},
		{"nan current", pos(0, math.NaN()), pos(90, 0)},
	} {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Plan(%v, %v) did not panic", test.current, test.target)
				}
			}()
			Plan(test.current, test.target, 90)
		})
	}
}
