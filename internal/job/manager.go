package job

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrJobLimit is returned when a user already holds all of their admission
// slots and the prior job could not be displaced in time.
var ErrJobLimit = errors.New("JOB_LIMIT_REACHED")

const (
	defaultDrainWindow   = 500 * time.Millisecond
	defaultGraceInterval = 2 * time.Second
)

// ManagerConfig tunes the admission behavior.
type ManagerConfig struct {
	Deps Deps
	// MaxJobsPerUser caps concurrently admitted jobs per user. Zero means 1.
	MaxJobsPerUser int64
	// DrainWindow is how long a stopping job lingers before settling.
	DrainWindow time.Duration
	// GraceInterval is the pause between displacing a prior job and
	// admitting its replacement.
	GraceInterval time.Duration
}

// Manager owns the job registry and enforces the at-most-one-active-job
// rule per user. Starting a job displaces the user's prior job, waits a
// grace interval, then admits the new one against a per-user slot.
type Manager struct {
	deps  Deps
	max   int64
	drain time.Duration
	grace time.Duration

	mu       sync.Mutex
	jobs     map[string]*Job
	userJobs map[string]map[string]*Job
	slots    map[string]*semaphore.Weighted
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxJobsPerUser <= 0 {
		cfg.MaxJobsPerUser = 1
	}
	if cfg.DrainWindow <= 0 {
		cfg.DrainWindow = defaultDrainWindow
	}
	if cfg.GraceInterval <= 0 {
		cfg.GraceInterval = defaultGraceInterval
	}
	return &Manager{
		deps:     cfg.Deps,
		max:      cfg.MaxJobsPerUser,
		drain:    cfg.DrainWindow,
		grace:    cfg.GraceInterval,
		jobs:     make(map[string]*Job),
		userJobs: make(map[string]map[string]*Job),
		slots:    make(map[string]*semaphore.Weighted),
	}
}

func (m *Manager) slot(userID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[userID]
	if !ok {
		s = semaphore.NewWeighted(m.max)
		m.slots[userID] = s
	}
	return s
}

func (m *Manager) register(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	byUser, ok := m.userJobs[j.UserID]
	if !ok {
		byUser = make(map[string]*Job)
		m.userJobs[j.UserID] = byUser
	}
	byUser[j.ID] = j
}

func (m *Manager) unregister(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, j.ID)
	if byUser, ok := m.userJobs[j.UserID]; ok {
		delete(byUser, j.ID)
		if len(byUser) == 0 {
			delete(m.userJobs, j.UserID)
		}
	}
}

func (m *Manager) jobsForUser(userID string) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.userJobs[userID]))
	for _, j := range m.userJobs[userID] {
		out = append(out, j)
	}
	return out
}

// CreateJob admits and starts a job for the user. Any prior job of the
// same user is stopped first, its terminal history flushed, and the grace
// interval observed before the new job starts loading. The call returns as
// soon as the job is running; flow execution continues in the background.
func (m *Manager) CreateJob(ctx context.Context, userID string, matrix license.Matrix, refs models.DatasetRefs) (models.JobSnapshot, error) {
	if prior := m.jobsForUser(userID); len(prior) > 0 {
		for _, p := range prior {
			log.Printf("[jobs] displacing job %s for user %s", p.ID, userID)
			// The outgoing run's history outcome is flushed before the
			// replacement is admitted, so its record is never truncated.
			p.writeTerminalHistory("stopped")
			p.Stop()
		}
		select {
		case <-time.After(m.grace):
		case <-ctx.Done():
			return models.JobSnapshot{}, ctx.Err()
		}
	}

	slot := m.slot(userID)
	if !slot.TryAcquire(1) {
		return models.JobSnapshot{}, ErrJobLimit
	}

	j := newJob(userID, matrix, refs, m.deps, m.drain)
	j.release = func() { slot.Release(1) }
	j.onSettle = m.unregister
	m.register(j)

	if err := j.load(); err != nil {
		return models.JobSnapshot{}, err
	}

	historyID, err := m.deps.Recorder.Create(models.HistoryEntry{
		UserID:     userID,
		JobID:      j.ID,
		ScheduleID: refs.ScheduleID,
		StartTime:  time.Now(),
		Status:     "running",
		Stats:      models.HistoryStats{TotalFlow: j.totalFlows},
		Config: models.HistoryConfig{
			TargetSet:       refs.TargetSet,
			ProxySet:        refs.ProxySet,
			PlatformSet:     refs.PlatformSet,
			SettingsProfile: refs.SettingsProfile,
			InstanceCount:   j.config.InstanceCount,
		},
	})
	if err != nil {
		log.Printf("[jobs] could not create history entry for %s: %v", j.ID, err)
	} else {
		j.mu.Lock()
		j.historyID = historyID
		j.mu.Unlock()
	}

	j.start()
	return j.Snapshot(), nil
}

// StopJob stops one job if it belongs to the user. It reports whether a
// stop transition actually happened.
func (m *Manager) StopJob(userID, jobID string) bool {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok || j.UserID != userID {
		return false
	}
	return j.Stop()
}

// StopAllJobsForUser stops every job the user has and returns how many
// stop transitions it triggered.
func (m *Manager) StopAllJobsForUser(userID string) int {
	stopped := 0
	for _, j := range m.jobsForUser(userID) {
		if j.Stop() {
			stopped++
		}
	}
	return stopped
}

// GetJobStatus returns the synchronous snapshot of one job.
func (m *Manager) GetJobStatus(userID, jobID string) (models.JobSnapshot, bool) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok || j.UserID != userID {
		return models.JobSnapshot{}, false
	}
	return j.Snapshot(), true
}

// ListJobsForUser returns snapshots of the user's registered jobs, newest
// start first.
func (m *Manager) ListJobsForUser(userID string) []models.JobSnapshot {
	jobs := m.jobsForUser(userID)
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].StartTime().After(jobs[b].StartTime())
	})
	out := make([]models.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Shutdown stops everything and waits for the jobs to settle, bounded by
// the context.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	for _, j := range jobs {
		j.Stop()
	}
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return
		}
	}
}
