// Package tsdb provides VictoriaMetrics connectivity for the history service.
//
// It writes samples using InfluxDB line protocol on /write and reads them
// back through the JSON line export API. Only net/http is used.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, config.TSDBConfig{URL: "http://localhost:8428"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WritePoints(ctx, []tsdb.Point{{
//	    Measurement: "meter_history",
//	    Tags:        map[string]string{"item": "energy_import"},
//	    Fields:      map[string]any{"value": 0.42},
//	    Time:        ts,
//	}})
//
// VictoriaMetrics names the resulting series measurement_field, so the point
// above is exported as meter_history_value{item="energy_import"}.
//
// # Error Handling
//
// Writes are synchronous and return their error. A written sample may take
// up to a second to appear in exports while VictoriaMetrics flushes its
// in-memory buffers.
package tsdb
