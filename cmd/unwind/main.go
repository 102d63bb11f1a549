// Command unwind moves a rotator that reports absolute positions (e.g. a SPID
// reporting -180 through 540 degrees) to an absolute position in small steps.
// It is meant to run as a SatNOGS post-observation script.
//
// The target is the home position, or, when a station ID is given, the rise
// azimuth of that station's next observation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/w1xm/unwind/internal/config"
	"github.com/w1xm/unwind/internal/logging"
	"github.com/w1xm/unwind/internal/telemetry"
	"github.com/w1xm/unwind/rotator"
	"github.com/w1xm/unwind/rotctld"
	"github.com/w1xm/unwind/satnogs"
	"github.com/w1xm/unwind/unwind"
)

// Exit codes
const (
	exitConverged          = 0
	exitFailed             = 1
	exitPreconditionFailed = 2
	exitTimedOut           = 3
)

var defaults = config.Default()

var (
	configFile = flag.String("config", "", "YAML file with run parameters; flags override it")

	_ = flag.Float64("home_azimuth", defaults.HomeAzimuth, "home azimuth in absolute degrees")
	_ = flag.Float64("home_elevation", defaults.HomeElevation, "home elevation in degrees")
	_ = flag.Float64("homing_timeout", defaults.HomingTimeout, "overall homing timeout in seconds")
	_ = flag.Float64("movement_timeout", defaults.MovementTimeout, "do not move if the next observation starts sooner than this many seconds")
	_ = flag.Float64("step_size", defaults.StepSize, "move in steps of at most this many degrees")
	_ = flag.Float64("tolerance", defaults.Tolerance, "degrees from the target that count as arrived")
	_ = flag.Float64("settle_interval", defaults.SettleInterval, "seconds to wait after each step before polling")
	_ = flag.Float64("io_timeout", defaults.IOTimeout, "seconds to wait for rotctld on each command")
	_ = flag.String("rotctld_host", defaults.RotctldHost, "rotctld hostname")
	_ = flag.Int("rotctld_port", defaults.RotctldPort, "rotctld port")
	_ = flag.Int("station_id", defaults.StationID, "SatNOGS station ID; -1 always moves home")
	_ = flag.Bool("network_dev", defaults.NetworkDev, "use SatNOGS network-dev instead of network")
	_ = flag.String("log", defaults.Log, "log file; empty logs to stdout only")
	_ = flag.String("influx_server", defaults.InfluxServer, "InfluxDB server to record progress in")
	_ = flag.String("influx_token", defaults.InfluxToken, "InfluxDB token")
	_ = flag.String("influx_org", defaults.InfluxOrg, "InfluxDB organization")
	_ = flag.String("influx_bucket", defaults.InfluxBucket, "InfluxDB bucket")
	_ = flag.String("nats_url", defaults.NATSURL, "NATS server to publish the outcome to")
	_ = flag.String("nats_subject", defaults.NATSSubject, "NATS subject for the outcome")
)

// loadConfig reads -config and applies every flag set on the command line.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]interface{})
	flag.Visit(func(f *flag.Flag) {
		g, ok := f.Value.(flag.Getter)
		if f.Name == "config" || !ok {
			return
		}
		overrides[f.Name] = g.Get()
	})
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func exitCode(state unwind.State) int {
	switch state {
	case unwind.Converged:
		return exitConverged
	case unwind.PreconditionFailed:
		return exitPreconditionFailed
	case unwind.TimedOut:
		return exitTimedOut
	}
	return exitFailed
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitFailed)
	}
	os.Exit(run(context.Background(), cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	defer logging.Setup(cfg.Log).Close()

	var callbacks []unwind.StatusCallback
	if cfg.InfluxServer != "" {
		tags := map[string]string{"rotctld": cfg.RotctldAddr()}
		if cfg.Scheduled() {
			tags["station"] = fmt.Sprint(cfg.StationID)
		}
		influx := telemetry.NewInflux(cfg.InfluxServer, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, tags)
		defer influx.Close()
		callbacks = append(callbacks, influx.StatusCallback)
	}
	var publisher *telemetry.NATS
	if cfg.NATSURL != "" {
		var err error
		if publisher, err = telemetry.DialNATS(cfg.NATSURL, cfg.NATSSubject); err != nil {
			// Reporting is best effort; still move the rotator.
			log.Print(err)
		} else {
			defer publisher.Close()
		}
	}

	home := rotator.Position{Azimuth: cfg.HomeAzimuth, Elevation: cfg.HomeElevation}
	var finder unwind.PassFinder
	if cfg.Scheduled() {
		finder = &satnogs.Finder{
			Client:    satnogs.NewClient(cfg.NetworkDev),
			StationID: cfg.StationID,
			Elevation: cfg.HomeElevation,
		}
	}

	start := time.Now()
	target, res, err := unwindTo(ctx, cfg, home, finder, telemetry.Multi(callbacks...))
	if err != nil {
		switch {
		case errors.Is(err, unwind.ErrPreconditionFailed):
			log.Printf("Not moving: %v", err)
		default:
			log.Printf("Error - %v", err)
		}
	}
	log.Printf("Elapsed time: %d seconds", int(time.Since(start).Seconds()))

	if publisher != nil {
		station := 0
		if cfg.Scheduled() {
			station = cfg.StationID
		}
		if perr := publisher.Publish(telemetry.NewEvent(station, target, res, err)); perr != nil {
			log.Print(perr)
		}
	}
	return exitCode(res.State)
}

func unwindTo(ctx context.Context, cfg *config.Config, home rotator.Position, finder unwind.PassFinder, statusCallback unwind.StatusCallback) (rotator.Position, unwind.Result, error) {
	target, err := unwind.ResolveTarget(ctx, home, finder, time.Now(), cfg.MovementTimeoutDuration())
	if err != nil {
		return target, unwind.Result{State: unwind.PreconditionFailed}, err
	}

	link, err := rotctld.Dial(ctx, cfg.RotctldAddr(), cfg.IOTimeoutDuration())
	if err != nil {
		return target, unwind.Result{State: unwind.Failed}, err
	}
	defer link.Close()
	// Some backends refuse '_'; the model is only for the log.
	if model, err := link.Model(); err != nil {
		log.Printf("Connected to rotctld at %s (model unknown: %v)", cfg.RotctldAddr(), err)
	} else {
		log.Printf("Connected to rotctld at %s (%s)", cfg.RotctldAddr(), model)
	}

	res, err := unwind.New(link, cfg.Unwind(), statusCallback).Run(ctx, target)
	return target, res, err
}
