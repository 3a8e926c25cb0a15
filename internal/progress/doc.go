// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that crawl orchestration uses to report pipeline
// milestones. It batches events on a background goroutine and fans them out
// to pluggable sinks such as Prometheus metrics or the job-run journal.
package progress
