package models

import "time"

// Occurrence is how often a scheduled job repeats.
type Occurrence string

const (
	OccurrenceOnce   Occurrence = "Once"
	OccurrenceDaily  Occurrence = "Daily"
	OccurrenceWeekly Occurrence = "Weekly"
)

// ScheduledJob is a job definition launched by the time-based trigger.
type ScheduledJob struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Occurrence Occurrence  `json:"occurrence"`
	NextRun    time.Time   `json:"nextRun"`
	Status     string      `json:"status"` // active, done
	CreatedAt  time.Time   `json:"createdAt"`
	License    string      `json:"license"` // captured at creation time
	Payload    DatasetRefs `json:"jobPayload"`
}
