// Package influxdb writes wirehome telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with the daemon's measurements:
//   - channel_reading: accepted input values (temperature, humidity, PIR)
//   - channel_output: relay switching, tagged with the originating rule
//   - device_health: bus health transitions
//   - actuation: dispatch outcomes and attempt counts
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("bath", "bathroom-humidity", 71.5, ts)
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller. Asynchronous failures are reported through SetOnError.
package influxdb
