// Package scheduler runs named jobs on a robfig/cron runner in the display
// zone. Interval jobs get a random delay before their first run.
package scheduler
