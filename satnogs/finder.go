package satnogs

import (
	"context"
	"fmt"
	"log"

	"github.com/w1xm/unwind/rotator"
	"github.com/w1xm/unwind/unwind"
)

// Finder finds the next pass on one station. Passes start at the rise
// azimuth; the network does not report a rise elevation, so Elevation is used.
type Finder struct {
	Client    *Client
	StationID int
	Elevation float64
}

func (f *Finder) NextPass(ctx context.Context) (*unwind.Pass, error) {
	o, err := f.Client.NextObservation(ctx, f.StationID)
	if err != nil || o == nil {
		return nil, err
	}
	log.Printf("Next observation (#%d) rises at %.1f degrees, at %v.", o.ID, *o.RiseAzimuth, o.Start)
	return &unwind.Pass{
		Position: rotator.Position{Azimuth: *o.RiseAzimuth, Elevation: f.Elevation},
		Start:    o.Start,
		Name:     fmt.Sprintf("#%d", o.ID),
	}, nil
}
