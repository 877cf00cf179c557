// Package history keeps the durable record of past job runs.
package history

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

	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrNotFound is returned when an entry id is unknown.
var ErrNotFound = errors.New("history entry not found")

// MaxAge is how long entries are retained before cleanup discards them.
const MaxAge = 30 * 24 * time.Hour

// Recorder is the contract the job engine uses: create an entry at job start
// and merge partial updates as the run progresses and terminates.
type Recorder interface {
	Create(entry models.HistoryEntry) (string, error)
	Update(id string, update models.HistoryUpdate) error
}

// FileRecorder persists entries to one JSON file, newest first, with an
// in-memory cache in front of it.
type FileRecorder struct {
	path    string
	mu      sync.Mutex
	entries []models.HistoryEntry
}

// NewFileRecorder loads any existing history file and prunes stale entries.
func NewFileRecorder(path string) (*FileRecorder, error) {
	r := &FileRecorder{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh start.
	case err != nil:
		return nil, fmt.Errorf("failed to read history file: %w", err)
	default:
		if jsonErr := json.Unmarshal(data, &r.entries); jsonErr != nil {
			log.Printf("[history] history file is corrupt, starting fresh: %v", jsonErr)
			r.entries = nil
		}
	}

	if removed := r.cleanupLocked(time.Now()); removed > 0 {
		log.Printf("[history] discarded %d entries older than %s", removed, MaxAge)
	}
	return r, nil
}

func (r *FileRecorder) saveLocked() {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		log.Printf("[history] failed to encode history: %v", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		log.Printf("[history] failed to save history: %v", err)
	}
}

// Create stores a new entry, assigning an id if the caller left it empty.
func (r *FileRecorder) Create(entry models.HistoryEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = "hist_" + uuid.NewString()
	}
	if entry.StartTime.IsZero() {
		entry.StartTime = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]models.HistoryEntry{entry}, r.entries...)
	r.saveLocked()
	return entry.ID, nil
}

// Update merges the partial update into the entry.
func (r *FileRecorder) Update(id string, update models.HistoryUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		if update.Status != nil {
			r.entries[i].Status = *update.Status
		}
		if update.StopTime != nil {
			r.entries[i].StopTime = update.StopTime
		}
		if update.Duration != nil {
			r.entries[i].Duration = *update.Duration
		}
		if update.Stats != nil {
			r.entries[i].Stats = *update.Stats
		}
		r.saveLocked()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get returns one entry by id.
func (r *FileRecorder) Get(id string) (models.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return models.HistoryEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the user's entries, newest first.
func (r *FileRecorder) List(userID string) []models.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.HistoryEntry, 0)
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Delete removes one entry.
func (r *FileRecorder) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.saveLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ClearForUser removes all of a user's entries and reports how many.
func (r *FileRecorder) ClearForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	if removed > 0 {
		r.saveLocked()
	}
	return removed
}

// Cleanup drops entries older than MaxAge.
func (r *FileRecorder) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.cleanupLocked(now)
	if removed > 0 {
		r.saveLocked()
	}
	return removed
}

func (r *FileRecorder) cleanupLocked(now time.Time) int {
	cutoff := now.Add(-MaxAge)
	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.StartTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed
}

// Rollup aggregates the user's history for display.
func (r *FileRecorder) Rollup(userID string) models.HistoryRollup {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roll models.HistoryRollup
	var totalDuration int64
	for _, e := range r.entries {
		if e.UserID != userID {
			continue
		}
		roll.TotalJobs++
		switch e.Status {
		case "completed":
			roll.CompletedJobs++
		case "failed":
			roll.FailedJobs++
		}
		roll.TotalImpressions += e.Stats.Impressions
		roll.TotalClicks += e.Stats.Clicks
		totalDuration += e.Duration
	}
	if roll.TotalJobs > 0 {
		roll.AvgDuration = totalDuration / int64(roll.TotalJobs)
	}
	return roll
}
