package models

import "time"

// JobStatus represents the current state of a traffic job.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusLoading  JobStatus = "loading"
	StatusRunning  JobStatus = "running"
	StatusStopping JobStatus = "stopping"
	StatusStopped  JobStatus = "stopped"
	StatusFailed   JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// JobStats are the running counters for one job. Total* are fixed at load
// time; the rest are updated by the worker pool as flows complete.
type JobStats struct {
	TotalFlows  int64     `json:"totalFlows"`
	DoneFlows   int64     `json:"doneFlows"`
	TotalClicks int64     `json:"totalClicks"`
	DoneClicks  int64     `json:"doneClicks"`
	Success     int64     `json:"success"`
	Fail        int64     `json:"fail"`
	StartTime   time.Time `json:"startTime"`
}

// DatasetRefs names the datasets a job should load. TargetSet and
// SettingsProfile are mandatory; the rest are optional.
type DatasetRefs struct {
	TargetSet       string         `json:"targetSet"`
	ProxySet        string         `json:"proxySet,omitempty"`
	PlatformSet     string         `json:"platformSet,omitempty"`
	SettingsProfile string         `json:"settingsProfile"`
	ScheduleID      string         `json:"scheduleId,omitempty"`
	Overrides       *SettingsPatch `json:"overrides,omitempty"`
}

// ConfigSummary is the condensed config echoed in job status payloads.
type ConfigSummary struct {
	InstanceCount int    `json:"instanceCount"`
	Targets       string `json:"targets"`
	Proxies       string `json:"proxies"`
	Platforms     string `json:"platforms"`
	Settings      string `json:"settings"`
}

// JobSnapshot is the synchronous view of a job returned from admission
// control and status queries.
type JobSnapshot struct {
	JobID         string        `json:"jobId"`
	Status        JobStatus     `json:"status"`
	Stats         JobStats      `json:"stats"`
	HistoryID     string        `json:"historyId,omitempty"`
	ConfigSummary ConfigSummary `json:"configSummary"`
}
