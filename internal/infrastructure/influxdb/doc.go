// Package influxdb archives HiveLink device events to InfluxDB 2.x.
//
// Every inserted notification and every command insert or update becomes a
// point in the "device_notifications" or "device_commands" measurement,
// tagged by device, network and device type. Writes go through the
// non-blocking batched WriteAPI; async failures surface via SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // archiving turned off
//	}
//	defer client.Close()
//
//	client.WriteDeviceEvent(influxdb.DeviceEvent{Kind: influxdb.KindNotification, ...})
package influxdb
