// Package job is the execution and scheduling engine: the job state machine,
// the concurrency-bounded worker pool and the admission-controlling manager.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smahud/traffic-buster/internal/automation"
	"github.com/smahud/traffic-buster/internal/dataset"
	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/internal/history"
	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/internal/proxypool"
	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrDatasetNotFound is returned when a mandatory dataset is missing.
var ErrDatasetNotFound = errors.New("DATASET_NOT_FOUND")

// LicenseError rejects a job before any resources are allocated.
type LicenseError struct {
	Violations []license.Violation
}

func (e *LicenseError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = v.Code
	}
	return "license validation failed: " + strings.Join(codes, ", ")
}

// Deps are the external collaborators a job talks to.
type Deps struct {
	Datasets *dataset.Store
	Recorder history.Recorder
	Sink     events.Sink
	Runner   automation.Runner
}

// Config is the merged runtime configuration of one job: the settings
// profile with per-run overrides applied, plus the loaded collections.
type Config struct {
	models.Settings
	Targets   []models.Target
	Platforms []models.Platform
	Proxies   []models.Proxy
}

// Job is one traffic run: identity, owner, merged config, lifecycle state
// and live statistics. It is mutated only by its own worker pool and the
// manager that created it.
type Job struct {
	ID     string
	UserID string
	Matrix license.Matrix
	Refs   models.DatasetRefs

	deps  Deps
	drain time.Duration

	mu        sync.Mutex
	status    models.JobStatus
	config    *Config
	historyID string
	startTime time.Time

	totalFlows  int64
	totalClicks int64
	doneFlows   atomic.Int64
	doneClicks  atomic.Int64
	success     atomic.Int64
	fail        atomic.Int64
	perTarget   map[string]*atomic.Int64

	proxies *proxypool.Pool

	// emitMu serializes all sink emissions so observers see this job's
	// events in the order they happened.
	emitMu sync.Mutex

	runCtx    context.Context
	cancelRun context.CancelFunc

	terminalHistory sync.Once
	settleOnce      sync.Once
	doneOnce        sync.Once
	released        sync.Once
	release         func()
	onSettle        func(*Job)

	done chan struct{}
}

func newJob(userID string, matrix license.Matrix, refs models.DatasetRefs, deps Deps, drain time.Duration) *Job {
	if deps.Sink == nil {
		deps.Sink = events.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:        "job_" + uuid.NewString(),
		UserID:    userID,
		Matrix:    matrix,
		Refs:      refs,
		deps:      deps,
		drain:     drain,
		status:    models.StatusPending,
		perTarget: make(map[string]*atomic.Int64),
		runCtx:    ctx,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() models.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// HistoryID returns the attached history handle, empty until assigned.
func (j *Job) HistoryID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.historyID
}

// StartTime reports when the worker pool was launched, zero before that.
func (j *Job) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startTime
}

// Done is closed once the job has settled into a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) setStatus(s models.JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
	j.emitStatus()
}

func (j *Job) emit(eventType string, payload any) {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	j.deps.Sink.Emit(j.UserID, eventType, payload)
}

// emitStatus snapshots under emitMu so serialized jobStatusUpdate payloads
// carry counters from the moment of emission; observers never see the
// stats step backwards.
func (j *Job) emitStatus() {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	j.deps.Sink.Emit(j.UserID, events.TypeJobStatus, j.Snapshot())
}

func (j *Job) emitLog(level, message string) {
	j.emit(events.TypeLog, map[string]any{
		"level":   level,
		"message": message,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats returns a coherent copy of the live counters.
func (j *Job) Stats() models.JobStats {
	j.mu.Lock()
	start := j.startTime
	total, totalClicks := j.totalFlows, j.totalClicks
	j.mu.Unlock()
	return models.JobStats{
		TotalFlows:  total,
		DoneFlows:   j.doneFlows.Load(),
		TotalClicks: totalClicks,
		DoneClicks:  j.doneClicks.Load(),
		Success:     j.success.Load(),
		Fail:        j.fail.Load(),
		StartTime:   start,
	}
}

// Snapshot is the synchronous status view returned to callers.
func (j *Job) Snapshot() models.JobSnapshot {
	j.mu.Lock()
	status := j.status
	historyID := j.historyID
	instanceCount := 0
	if j.config != nil {
		instanceCount = j.config.InstanceCount
	}
	j.mu.Unlock()

	orNone := func(s string) string {
		if s == "" {
			return "None"
		}
		return s
	}
	return models.JobSnapshot{
		JobID:     j.ID,
		Status:    status,
		Stats:     j.Stats(),
		HistoryID: historyID,
		ConfigSummary: models.ConfigSummary{
			InstanceCount: instanceCount,
			Targets:       j.Refs.TargetSet,
			Proxies:       orNone(j.Refs.ProxySet),
			Platforms:     orNone(j.Refs.PlatformSet),
			Settings:      j.Refs.SettingsProfile,
		},
	}
}

// load resolves and merges the job's datasets. Settings and targets are
// mandatory; proxies and platforms degrade to empty collections when their
// set is missing. A failure here is terminal (loading -> failed).
func (j *Job) load() error {
	j.setStatus(models.StatusLoading)

	cfg, err := j.loadConfig()
	if err != nil {
		j.failLoad(err)
		return err
	}

	j.mu.Lock()
	j.config = cfg
	for _, t := range cfg.Targets {
		j.totalFlows += int64(t.FlowTarget)
		j.totalClicks += int64(t.ClickTarget)
		j.perTarget[t.ID] = &atomic.Int64{}
	}
	j.mu.Unlock()
	return nil
}

func (j *Job) loadConfig() (*Config, error) {
	settings, err := j.deps.Datasets.Settings(j.UserID, j.Refs.SettingsProfile)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, fmt.Errorf("%w: settings profile %q", ErrDatasetNotFound, j.Refs.SettingsProfile)
		}
		return nil, err
	}

	targets, err := j.deps.Datasets.Targets(j.UserID, j.Refs.TargetSet)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, fmt.Errorf("%w: target set %q", ErrDatasetNotFound, j.Refs.TargetSet)
		}
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: target set %q is empty", ErrDatasetNotFound, j.Refs.TargetSet)
	}

	var proxies []models.Proxy
	if j.Refs.ProxySet != "" {
		if !j.Matrix.AllowProxies {
			return nil, &LicenseError{Violations: []license.Violation{{
				Code:    license.CodeFeatureDisabled,
				Message: fmt.Sprintf("feature %q is disabled by license", license.FlagProxies),
				Feature: license.FlagProxies,
			}}}
		}
		proxies, err = j.deps.Datasets.Proxies(j.UserID, j.Refs.ProxySet)
		if err != nil {
			if !errors.Is(err, dataset.ErrNotFound) {
				return nil, err
			}
			j.emitLog("warn", fmt.Sprintf("Proxy set %q not found, continuing without proxies.", j.Refs.ProxySet))
			proxies = nil
		}
	}

	var platforms []models.Platform
	if j.Refs.PlatformSet != "" {
		if !j.Matrix.AllowPlatformCustom {
			return nil, &LicenseError{Violations: []license.Violation{{
				Code:    license.CodeFeatureDisabled,
				Message: fmt.Sprintf("feature %q is disabled by license", license.FlagPlatformCustom),
				Feature: license.FlagPlatformCustom,
			}}}
		}
		platforms, err = j.deps.Datasets.Platforms(j.UserID, j.Refs.PlatformSet)
		if err != nil {
			if !errors.Is(err, dataset.ErrNotFound) {
				return nil, err
			}
			j.emitLog("warn", fmt.Sprintf("Platform set %q not found, continuing without platforms.", j.Refs.PlatformSet))
			platforms = nil
		}
	}

	// Collection sizes are checked against the matrix before anything is
	// allocated. The instance count is not: it gets downgraded at start.
	if vs := j.Matrix.ValidateUsage(license.Usage{
		Targets:   len(targets),
		Proxies:   len(proxies),
		Platforms: len(platforms),
	}); len(vs) > 0 {
		return nil, &LicenseError{Violations: vs}
	}

	settings = dataset.NormalizeSettings(settings)
	j.Refs.Overrides.Apply(&settings)
	settings = dataset.NormalizeSettings(settings)

	return &Config{
		Settings:  settings,
		Targets:   targets,
		Platforms: platforms,
		Proxies:   proxies,
	}, nil
}

// failLoad is the loading -> failed branch.
func (j *Job) failLoad(cause error) {
	j.setStatus(models.StatusFailed)
	j.emitLog("error", fmt.Sprintf("Failed to load job data: %v", cause))
	log.Printf("[jobs] job %s for user %s failed to load: %v", j.ID, j.UserID, cause)
	j.finish()
}

// start transitions to running and launches the worker pool. The returned
// channel view of completion is Done(). A job stopped while it was still
// loading has already settled and must not be resurrected.
func (j *Job) start() {
	j.mu.Lock()
	if j.status != models.StatusLoading {
		j.mu.Unlock()
		return
	}
	j.startTime = time.Now()
	if len(j.config.Proxies) > 0 {
		refs := j.Refs
		userID := j.UserID
		store := j.deps.Datasets
		j.proxies = proxypool.New(j.config.Proxies, userID, j.deps.Sink, func(proxyID string) {
			if err := store.SetProxyEnabled(userID, refs.ProxySet, proxyID, false); err != nil {
				log.Printf("[jobs] failed to persist proxy %s off: %v", proxyID, err)
			}
		})
	}
	j.mu.Unlock()

	j.setStatus(models.StatusRunning)
	j.emitLog("info", "Job started")
	j.emitLog("info", fmt.Sprintf("Total flows to execute: %d", j.totalFlows))

	go j.runPool()
}

// Stop requests the running/loading -> stopping transition. It is idempotent:
// calling it on a stopping or terminal job is a no-op. The job settles to
// stopped after the drain window.
func (j *Job) Stop() bool {
	j.mu.Lock()
	if j.status.Terminal() || j.status == models.StatusStopping {
		j.mu.Unlock()
		return false
	}
	j.status = models.StatusStopping
	j.mu.Unlock()

	j.emitStatus()
	j.emitLog("info", "Job stopping...")

	go func() {
		timer := time.NewTimer(j.drain)
		defer timer.Stop()
		<-timer.C
		j.settle()
	}()
	return true
}

// settle is the stopping -> stopped transition: flush the terminal history
// outcome (first writer wins), cancel anything still in flight and hand the
// job back to the manager.
func (j *Job) settle() {
	j.settleOnce.Do(func() {
		j.cancelRun()
		j.mu.Lock()
		if j.status.Terminal() {
			j.mu.Unlock()
			return
		}
		j.status = models.StatusStopped
		j.mu.Unlock()
		j.emitStatus()
		j.emitLog("info", "Job stopped.")
		j.writeTerminalHistory("stopped")
		j.finish()
	})
}

// writeTerminalHistory records the run's final outcome exactly once. A
// natural completion writes "completed" before the generic stop path runs,
// and the later "stopped" write is then dropped.
func (j *Job) writeTerminalHistory(outcome string) {
	j.terminalHistory.Do(func() {
		j.mu.Lock()
		historyID := j.historyID
		start := j.startTime
		j.mu.Unlock()
		if historyID == "" {
			return
		}

		now := time.Now()
		var duration int64
		if !start.IsZero() {
			duration = int64(now.Sub(start).Seconds())
		}
		update := models.HistoryUpdate{
			Status:   &outcome,
			StopTime: &now,
			Duration: &duration,
			Stats:    j.historyStats(),
		}
		if err := j.deps.Recorder.Update(historyID, update); err != nil {
			log.Printf("[jobs] failed to write terminal history for %s: %v", j.ID, err)
		}
	})
}

func (j *Job) historyStats() *models.HistoryStats {
	stats := j.Stats()
	return &models.HistoryStats{
		TotalFlow:   stats.TotalFlows,
		FlowDone:    stats.DoneFlows,
		Impressions: stats.DoneFlows,
		Clicks:      stats.DoneClicks,
		FailedFlow:  stats.Fail,
	}
}

// finish releases the admission slot and removes the job from the registry.
func (j *Job) finish() {
	j.cancelRun()
	j.released.Do(func() {
		if j.release != nil {
			j.release()
		}
	})
	j.doneOnce.Do(func() { close(j.done) })
	if j.onSettle != nil {
		j.onSettle(j)
	}
}
