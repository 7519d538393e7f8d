// Package influxdb mirrors logged samples into InfluxDB v2.
//
// SQLite stays the system of record; InfluxDB is an optional copy for
// Grafana-style dashboards. Each non-null reading of a cycle becomes one
// point:
//
//	lakeshore_samples,source=LS336,channel=temperature_A value=4.2 <cycle time>
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := influxdb.NewMirror(client)
//	// sink is a scheduler.Sink
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched (batch_size, flush_interval); write
// failures arrive asynchronously through SetOnError.
package influxdb
