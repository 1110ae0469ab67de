// Package influxdb provides InfluxDB v2 connectivity for the history service.
//
// It wraps the official influxdb-client-go v2 library with blocking writes,
// so a caller knows its samples are durable when the call returns, and a
// small Flux query helper that returns timestamped numeric values.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graylogic",
//	    Bucket: "history",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	p := write.NewPoint("meter_history",
//	    map[string]string{"item": "energy_import"},
//	    map[string]any{"value": 0.42}, ts)
//	err = client.WritePoints(ctx, []*write.Point{p})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
