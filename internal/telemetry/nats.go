package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/w1xm/unwind/rotator"
	"github.com/w1xm/unwind/unwind"
)

// Event describes the outcome of one unwind run.
type Event struct {
	Time    time.Time        `json:"time"`
	Station int              `json:"station,omitempty"`
	Target  rotator.Position `json:"target"`
	Result  unwind.Result    `json:"result"`
	Error   string           `json:"error,omitempty"`
}

func NewEvent(station int, target rotator.Position, res unwind.Result, err error) Event {
	e := Event{
		Time:    time.Now().UTC(),
		Station: station,
		Target:  target,
		Result:  res,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NATS publishes run outcomes on a subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func DialNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("rotator-unwind"),
		nats.Timeout(5*time.Second),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// Publish sends e and waits for the server to accept it.
func (n *NATS) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.subject, err)
	}
	return n.conn.FlushTimeout(5 * time.Second)
}

func (n *NATS) Close() {
	n.conn.Close()
}
