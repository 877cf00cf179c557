package models

import "time"

// HistoryStats is the flow/click rollup persisted with a history entry.
type HistoryStats struct {
	TotalFlow   int64 `json:"totalFlow"`
	FlowDone    int64 `json:"flowDone"`
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	FailedFlow  int64 `json:"failedFlow"`
}

// HistoryConfig records which datasets a job ran with.
type HistoryConfig struct {
	TargetSet       string `json:"targetSet"`
	ProxySet        string `json:"proxySet,omitempty"`
	PlatformSet     string `json:"platformSet,omitempty"`
	SettingsProfile string `json:"settingsProfile"`
	InstanceCount   int    `json:"instanceCount"`
}

// HistoryEntry is one job run in the durable history log.
type HistoryEntry struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	JobID      string        `json:"jobId"`
	ScheduleID string        `json:"scheduleId,omitempty"`
	StartTime  time.Time     `json:"startTime"`
	StopTime   *time.Time    `json:"stopTime,omitempty"`
	Duration   int64         `json:"duration"` // seconds
	Status     string        `json:"status"`   // running, completed, stopped, failed
	Stats      HistoryStats  `json:"stats"`
	Config     HistoryConfig `json:"config"`
}

// HistoryUpdate is a partial update merged into an existing entry.
// Nil fields are left unchanged.
type HistoryUpdate struct {
	Status   *string       `json:"status,omitempty"`
	StopTime *time.Time    `json:"stopTime,omitempty"`
	Duration *int64        `json:"duration,omitempty"`
	Stats    *HistoryStats `json:"stats,omitempty"`
}

// HistoryRollup aggregates all entries for display.
type HistoryRollup struct {
	TotalJobs        int   `json:"totalJobs"`
	CompletedJobs    int   `json:"completedJobs"`
	FailedJobs       int   `json:"failedJobs"`
	TotalImpressions int64 `json:"totalImpressions"`
	TotalClicks      int64 `json:"totalClicks"`
	AvgDuration      int64 `json:"avgDuration"`
}
