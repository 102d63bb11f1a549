// Package telemetry ships unwind progress and outcomes to monitoring systems.
// The hook usually runs unattended, so this is the only way anyone sees it.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/w1xm/unwind/unwind"
)

const measurement = "rotator.unwind"

// Influx writes one point per status update.
type Influx struct {
	client   influxdb2.Client
	writeApi api.WriteApi
	tags     map[string]string
}

func NewInflux(server, token, org, bucket string, tags map[string]string) *Influx {
	client := influxdb2.NewClient(server, token)
	// Get non-blocking write client
	writeApi := client.WriteApi(org, bucket)
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("influx write error: %v", err)
		}
	}()
	return &Influx{client: client, writeApi: writeApi, tags: tags}
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		fields[prefix[1:]] = status
	}
}

// Fields flattens v's JSON form into dotted field names.
func Fields(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	flattenStatus(fields, tree, "")
	return fields, nil
}

// StatusCallback is an unwind.StatusCallback.
func (i *Influx) StatusCallback(status unwind.Status) {
	fields, err := Fields(status)
	if err != nil {
		log.Print(err)
		return
	}
	// write asynchronously
	i.writeApi.WritePoint(influxdb2.NewPoint(measurement, i.tags, fields, time.Now()))
}

func (i *Influx) Close() {
	i.writeApi.Flush()
	i.client.Close()
}

// Multi fans a status update out to every non-nil callback.
func Multi(callbacks ...unwind.StatusCallback) unwind.StatusCallback {
	return func(status unwind.Status) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(status)
			}
		}
	}
}
