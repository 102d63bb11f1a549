// Command rotsim serves a simulated overwind-capable rotator over the rotctld
// protocol, with its live status over HTTP, for trying out unwind without
// hardware.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/w1xm/unwind/rotator"
	"github.com/w1xm/unwind/rotctld/simulator"
)

var (
	addr         = flag.String("addr", "127.0.0.1:8502", "address to serve status on")
	rotctldAddr  = flag.String("rotctld_addr", ":4533", "address to serve rotctld on")
	startAzimuth = flag.Float64("start_azimuth", 0, "initial absolute azimuth")
	minAzimuth   = flag.Float64("min_azimuth", -180, "lower azimuth travel limit")
	maxAzimuth   = flag.Float64("max_azimuth", 540, "upper azimuth travel limit")
	velocity     = flag.Float64("velocity", 6, "slew rate in degrees/second; 0 moves instantly")
	verbose      = flag.Bool("verbose", false, "log every rotctld command")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg := simulator.DefaultConfig()
	cfg.MinAzimuth = *minAzimuth
	cfg.MaxAzimuth = *maxAzimuth
	cfg.Velocity = *velocity
	cfg.Verbose = *verbose

	server := NewServer()
	server.sim = simulator.New(cfg, rotator.Position{Azimuth: *startAzimuth}, server.statusCallback)
	server.statusCallback(server.sim.Status())

	ln, err := net.Listen("tcp", *rotctldAddr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Serving rotctld on %v", ln.Addr())
	go func() {
		log.Fatal(server.sim.Serve(ctx, ln))
	}()

	srv := &http.Server{
		Handler:      server.Router(),
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
