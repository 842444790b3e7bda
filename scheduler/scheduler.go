// Package scheduler runs the recurring price alert evaluations.
//
// Each registered alert owns one gocron job that reads the current price,
// compares it against the alert thresholds and, on a breach, notifies and
// removes itself. All mutations for one alert name are serialized, so a
// triggered alert is notified and removed exactly once even when an external
// removal races with it.
//
// The scheduler is implemented in alert_scheduler.go
package scheduler
