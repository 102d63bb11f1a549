// Package config holds the run parameters of the unwind hook. Parameters come
// from an optional YAML file; command-line flags with the same names win.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/w1xm/unwind/unwind"
	"gopkg.in/yaml.v3"
)

// NoStation disables the schedule lookup.
const NoStation = -1

// Config is flat so that every key is also a flag name.
// Durations are in seconds.
type Config struct {
	HomeAzimuth     float64 `yaml:"home_azimuth"`
	HomeElevation   float64 `yaml:"home_elevation"`
	HomingTimeout   float64 `yaml:"homing_timeout"`
	MovementTimeout float64 `yaml:"movement_timeout"` // minimum lead time before a pass
	StepSize        float64 `yaml:"step_size"`
	Tolerance       float64 `yaml:"tolerance"`
	SettleInterval  float64 `yaml:"settle_interval"`
	IOTimeout       float64 `yaml:"io_timeout"`

	RotctldHost string `yaml:"rotctld_host"`
	RotctldPort int    `yaml:"rotctld_port"`

	StationID  int  `yaml:"station_id"`
	NetworkDev bool `yaml:"network_dev"`

	Log string `yaml:"log"`

	InfluxServer string `yaml:"influx_server"` // empty disables InfluxDB
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`

	NATSURL     string `yaml:"nats_url"` // empty disables NATS
	NATSSubject string `yaml:"nats_subject"`
}

func Default() Config {
	u := unwind.DefaultConfig()
	return Config{
		HomingTimeout:   u.HomingTimeout.Seconds(),
		MovementTimeout: u.HomingTimeout.Seconds(),
		StepSize:        u.StepSize,
		Tolerance:       u.Tolerance,
		SettleInterval:  u.SettleInterval.Seconds(),
		IOTimeout:       5,
		RotctldHost:     "127.0.0.1",
		RotctldPort:     4533,
		StationID:       NoStation,
		Log:             "/tmp/rotator.log",
		InfluxOrg:       "satnogs",
		InfluxBucket:    "rotator",
		NATSSubject:     "rotator.unwind",
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return &cfg, nil
}

// Apply overrides fields by YAML key, e.g. from explicitly set flags.
func (c *Config) Apply(values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if math.IsNaN(c.HomeAzimuth) || math.IsInf(c.HomeAzimuth, 0) {
		return fmt.Errorf("home_azimuth must be a finite angle, got %v", c.HomeAzimuth)
	}
	if !(c.HomeElevation >= 0 && c.HomeElevation <= 90) {
		return fmt.Errorf("home_elevation must be between 0 and 90, got %.2f", c.HomeElevation)
	}
	if c.MovementTimeout < 0 {
		return fmt.Errorf("movement_timeout must be >= 0, got %.2f", c.MovementTimeout)
	}
	if c.IOTimeout <= 0 {
		return fmt.Errorf("io_timeout must be > 0, got %.2f", c.IOTimeout)
	}
	if c.RotctldHost == "" {
		return fmt.Errorf("rotctld_host is required")
	}
	if c.RotctldPort <= 0 || c.RotctldPort > 65535 {
		return fmt.Errorf("rotctld_port must be between 1 and 65535, got %d", c.RotctldPort)
	}
	if c.StationID != NoStation && c.StationID <= 0 {
		return fmt.Errorf("station_id must be positive, got %d", c.StationID)
	}
	if c.InfluxServer != "" && c.InfluxBucket == "" {
		return fmt.Errorf("influx_bucket is required with influx_server")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject is required with nats_url")
	}
	return c.Unwind().Validate()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Unwind returns the stepping parameters.
func (c *Config) Unwind() unwind.Config {
	u := unwind.DefaultConfig()
	u.StepSize = c.StepSize
	u.Tolerance = c.Tolerance
	u.SettleInterval = seconds(c.SettleInterval)
	u.HomingTimeout = seconds(c.HomingTimeout)
	return u
}

func (c *Config) MovementTimeoutDuration() time.Duration {
	return seconds(c.MovementTimeout)
}

func (c *Config) IOTimeoutDuration() time.Duration {
	return seconds(c.IOTimeout)
}

// RotctldAddr returns host:port of the control socket.
func (c *Config) RotctldAddr() string {
	return net.JoinHostPort(c.RotctldHost, strconv.Itoa(c.RotctldPort))
}

// Scheduled reports whether the target comes from the schedule lookup.
func (c *Config) Scheduled() bool {
	return c.StationID != NoStation
}
