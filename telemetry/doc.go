// Package telemetry exposes stream counters and quality gauges over a
// Prometheus scrape endpoint. Sessions feed it through cheap atomic
// updates; collectors read the latest values on scrape.
package telemetry
