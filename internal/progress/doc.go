// Package progress carries stage events from the job pipeline to pluggable
// sinks. Emitters never block: the hub batches events on a background
// goroutine and drops them under backpressure.
package progress
