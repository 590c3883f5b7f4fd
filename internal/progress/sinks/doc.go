// Package sinks implements progress consumers: structured logs, Prometheus
// counters, and stage notifications sent through a harvest.Publisher.
package sinks
