package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Event kinds, used as measurement names.
const (
	KindNotification = "device_notifications"
	KindCommand      = "device_commands"
)

// DeviceEvent is one archived notification or command.
type DeviceEvent struct {
	Kind         string
	ID           int64
	DeviceID     string
	NetworkID    int64
	DeviceTypeID int64
	Name         string
	Status       string
	Updated      bool
	Parameters   string
	Result       string
	Timestamp    time.Time
}

// WriteDeviceEvent queues ev for the next batch. Dropped silently when
// the client is closed.
func (c *Client) WriteDeviceEvent(ev DeviceEvent) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(eventPoint(ev))
}

// eventPoint maps an event onto a point. Identifiers with bounded
// cardinality are tags; payloads and ids are fields.
func eventPoint(ev DeviceEvent) *write.Point {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": ev.DeviceID,
		"name":      ev.Name,
	}
	if ev.NetworkID != 0 {
		tags["network_id"] = strconv.FormatInt(ev.NetworkID, 10)
	}
	if ev.DeviceTypeID != 0 {
		tags["device_type_id"] = strconv.FormatInt(ev.DeviceTypeID, 10)
	}

	fields := map[string]interface{}{
		"id": ev.ID,
	}
	if ev.Parameters != "" {
		fields["parameters"] = ev.Parameters
	}
	if ev.Kind == KindCommand {
		fields["status"] = ev.Status
		fields["result"] = ev.Result
		fields["updated"] = ev.Updated
	}

	return write.NewPoint(ev.Kind, tags, fields, ts)
}
