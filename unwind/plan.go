package unwind

import "github.com/w1xm/unwind/rotator"

// stepToward moves from toward to by at most step, landing exactly on to
// when it is within reach.
func stepToward(from, to, step float64) float64 {
	switch d := to - from; {
	case d > step:
		return from + step
	case d < -step:
		return from - step
	}
	return to
}

// Next returns the next intermediate absolute position on the way from
// current to target, moving each axis by at most step degrees.
func Next(current, target rotator.Position, step float64) rotator.Position {
	return rotator.Position{
		Azimuth:   stepToward(current.Azimuth, target.Azimuth, step),
		Elevation: stepToward(current.Elevation, target.Elevation, step),
	}
}

// Plan returns the absolute positions visited going from current to target
// in steps of at most step degrees per axis. The last element is target;
// the plan is empty if current is already target. step must be positive and
// both positions finite.
//
// Run follows the same path one element at a time, replanning with Next from
// each measured position.
func Plan(current, target rotator.Position, step float64) []rotator.Position {
	if !(step > 0) {
		panic("unwind: step must be positive")
	}
	if !current.Finite() || !target.Finite() {
		panic("unwind: positions must be finite")
	}
	var plan []rotator.Position
	for pos := current; pos != target; {
		pos = Next(pos, target, step)
		plan = append(plan, pos)
	}
	return plan
}
