// Package sinks contains runlog.Sink implementations: the spreadsheet
// webhook that receives each run, an optional GCS archive, and a zap sink for
// local debugging.
package sinks
