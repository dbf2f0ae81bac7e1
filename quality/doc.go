// Package quality derives real-time network quality estimates from the
// receive side of a streaming session.
//
// Two event streams feed the estimator: fragment arrivals (loss, jitter,
// throughput) and control-channel round trips (latency). A bounded
// MetricsWindow retains recent events; the Monitor reduces the window to a
// Sample on a fixed cadence so the adaptation controller always has a
// current reading, even under total silence.
package quality
