// Package runlog accumulates the structured audit trail of one warming run and
// delivers it, once, to the configured sinks.
//
// Rows are appended concurrently by warming goroutines while the run is in
// flight. Finalize stamps the run's finish time onto every row already
// appended; Flush then hands the complete batch, named after the run's start
// time in UTC+8, to each sink under a bounded timeout. Sink failures are
// logged and swallowed so the run itself never fails on delivery.
package runlog
