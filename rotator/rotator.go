package rotator

import (
	"fmt"
	"math"
	"time"
)

// Position is an absolute antenna orientation in degrees.
// Azimuth may lie outside [0, 360) when the rotator is in its overwind region.
type Position struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

func (p Position) String() string {
	return fmt.Sprintf("%.1f, %.1f", p.Azimuth, p.Elevation)
}

// Within reports whether p is within tolerance of q on both axes.
func (p Position) Within(q Position, tolerance float64) bool {
	return math.Abs(p.Azimuth-q.Azimuth) <= tolerance && math.Abs(p.Elevation-q.Elevation) <= tolerance
}

// Finite reports whether neither axis is NaN or infinite.
func (p Position) Finite() bool {
	return !math.IsNaN(p.Azimuth) && !math.IsInf(p.Azimuth, 0) &&
		!math.IsNaN(p.Elevation) && !math.IsInf(p.Elevation, 0)
}

// Link is the minimal controller surface needed to drive a rotator.
type Link interface {
	Position() (Position, error)
	SetPosition(pos Position) error
}

type Stopper interface {
	Stop() error
}

// Deadliner is implemented by links whose I/O can be bounded by an absolute
// deadline. A zero t removes the bound.
type Deadliner interface {
	SetDeadline(t time.Time)
}

// NominalAzimuth folds an absolute azimuth into [0, 360).
func NominalAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	switch {
	case az == 0:
		// Avoid sending -0.0.
		return 0
	case az < 0:
		az += 360
	}
	return az
}

func ClampElevation(el float64) float64 {
	if el > 90 {
		return 90
	} else if el < 0 {
		return 0
	}
	return el
}
