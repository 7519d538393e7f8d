package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
)

// DefaultMeasurement is used when the config names no measurement.
const DefaultMeasurement = "lakeshore_samples"

// CyclePoints converts a cycle's non-null rows into points stamped with the
// cycle's start time. Null readings have no value to store and are skipped.
func CyclePoints(measurement string, c scheduler.Cycle) []*write.Point {
	points := make([]*write.Point, 0, len(c.Rows))
	for _, r := range c.Rows {
		if r.Value == nil {
			continue
		}
		points = append(points, write.NewPoint(
			measurement,
			map[string]string{
				"source":  r.Source,
				"channel": r.Channel,
			},
			map[string]interface{}{
				"value": *r.Value,
			},
			c.Started.UTC(),
		))
	}
	return points
}

// WriteCycle queues the cycle's points on the batched write API.
// It returns the number of points queued; zero when disconnected.
func (c *Client) WriteCycle(cyc scheduler.Cycle) int {
	if !c.IsConnected() {
		return 0
	}

	points := CyclePoints(c.measurement, cyc)
	for _, p := range points {
		c.writeAPI.WritePoint(p)
	}
	return len(points)
}

// Mirror is a scheduler.Sink that copies every cycle into InfluxDB.
type Mirror struct {
	client *Client
}

// NewMirror returns a sink writing through client.
func NewMirror(client *Client) *Mirror {
	return &Mirror{client: client}
}

// Present queues the cycle. Delivery errors surface through SetOnError.
func (m *Mirror) Present(_ context.Context, c scheduler.Cycle) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.client.WriteCycle(c)
	return nil
}
