// Package schedule stores per-user scheduled runs and fires them when due.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrNotFound is returned when a schedule id does not exist for the user.
var ErrNotFound = errors.New("schedule not found")

// LaunchFunc starts a job for the schedule's owner. The scheduler never
// touches the job engine directly.
type LaunchFunc func(userID string, lic license.License, refs models.DatasetRefs)

const defaultTick = time.Minute

// Scheduler persists schedules under <usersDir>/<userId>/schedules.json
// and scans them on a fixed tick.
type Scheduler struct {
	usersDir string
	launch   LaunchFunc
	tick     time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(usersDir string, launch LaunchFunc) (*Scheduler, error) {
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating schedule root: %w", err)
	}
	return &Scheduler{
		usersDir: usersDir,
		launch:   launch,
		tick:     defaultTick,
	}, nil
}

func (s *Scheduler) filePath(userID string) string {
	return filepath.Join(s.usersDir, userID, "schedules.json")
}

func (s *Scheduler) loadLocked(userID string) []models.ScheduledJob {
	data, err := os.ReadFile(s.filePath(userID))
	if err != nil {
		return nil
	}
	var scheds []models.ScheduledJob
	if err := json.Unmarshal(data, &scheds); err != nil {
		log.Printf("[schedule] corrupt schedule file for user %s: %v", userID, err)
		return nil
	}
	return scheds
}

func (s *Scheduler) saveLocked(userID string, scheds []models.ScheduledJob) error {
	path := s.filePath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating schedule dir: %w", err)
	}
	data, err := json.MarshalIndent(scheds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schedules: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing schedules: %w", err)
	}
	return os.Rename(tmp, path)
}

// Create stores a new schedule and returns it with identity and defaults
// filled in.
func (s *Scheduler) Create(userID string, sched models.ScheduledJob) (models.ScheduledJob, error) {
	if sched.NextRun.IsZero() {
		return models.ScheduledJob{}, errors.New("schedule needs a first run time")
	}
	switch sched.Occurrence {
	case models.OccurrenceOnce, models.OccurrenceDaily, models.OccurrenceWeekly:
	default:
		return models.ScheduledJob{}, fmt.Errorf("unknown occurrence %q", sched.Occurrence)
	}

	sched.ID = "sch_" + uuid.NewString()
	sched.Status = "active"
	sched.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	scheds := append(s.loadLocked(userID), sched)
	if err := s.saveLocked(userID, scheds); err != nil {
		return models.ScheduledJob{}, err
	}
	return sched, nil
}

// List returns the user's schedules, creation order.
func (s *Scheduler) List(userID string) []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheds := s.loadLocked(userID)
	if scheds == nil {
		return []models.ScheduledJob{}
	}
	return scheds
}

// Delete removes one schedule.
func (s *Scheduler) Delete(userID, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheds := s.loadLocked(userID)
	for i, sc := range scheds {
		if sc.ID == scheduleID {
			scheds = append(scheds[:i], scheds[i+1:]...)
			return s.saveLocked(userID, scheds)
		}
	}
	return ErrNotFound
}

// Start begins the background scan loop. Stop ends it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.Sweep(now)
			case <-stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Sweep fires every due schedule across all users and advances their next
// run times. It is called by the tick loop and directly by tests.
func (s *Scheduler) Sweep(now time.Time) {
	users, err := os.ReadDir(s.usersDir)
	if err != nil {
		return
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		s.sweepUser(u.Name(), now)
	}
}

func (s *Scheduler) sweepUser(userID string, now time.Time) {
	var due []models.ScheduledJob

	s.mu.Lock()
	scheds := s.loadLocked(userID)
	changed := false
	for i := range scheds {
		sc := &scheds[i]
		if sc.Status != "active" || sc.NextRun.After(now) {
			continue
		}
		due = append(due, *sc)
		advance(sc, now)
		changed = true
	}
	if changed {
		if err := s.saveLocked(userID, scheds); err != nil {
			log.Printf("[schedule] failed to persist schedules for user %s: %v", userID, err)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		refs := sc.Payload
		refs.ScheduleID = sc.ID
		log.Printf("[schedule] firing schedule %s (%s) for user %s", sc.ID, sc.Name, userID)
		go s.launch(userID, license.Normalize(sc.License), refs)
	}
}

// advance moves a fired schedule to its next occurrence. Once retires it;
// Daily and Weekly step forward until the next run is in the future, so a
// downtime gap does not cause a burst of catch-up launches.
func advance(sc *models.ScheduledJob, now time.Time) {
	switch sc.Occurrence {
	case models.OccurrenceOnce:
		sc.Status = "done"
	case models.OccurrenceDaily:
		for !sc.NextRun.After(now) {
			sc.NextRun = sc.NextRun.Add(24 * time.Hour)
		}
	case models.OccurrenceWeekly:
		for !sc.NextRun.After(now) {
			sc.NextRun = sc.NextRun.Add(7 * 24 * time.Hour)
		}
	}
}
