package coordinator

import "time"

// nowUTC formats the current instant the way every coordinator-originated
// timestamp must be: UTC, second granularity, trailing "Z" (spec.md §3).
func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
