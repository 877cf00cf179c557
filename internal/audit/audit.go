// Package audit keeps a per-user append-only trail of notable actions,
// one JSON object per line, segmented by the license tier that performed
// the action.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smahud/traffic-buster/internal/license"
)

// Entry is one audit line.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	UserID    string         `json:"userId"`
	License   string         `json:"license"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Trail writes audit entries under <usersDir>/<userId>/logs/<license>.log.
type Trail struct {
	usersDir string
	mu       sync.Mutex
}

func NewTrail(usersDir string) (*Trail, error) {
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit root: %w", err)
	}
	return &Trail{usersDir: usersDir}, nil
}

func (t *Trail) logPath(userID string, lic license.License) string {
	return filepath.Join(t.usersDir, userID, "logs", string(lic)+".log")
}

// Record appends one entry. Failures are returned, not fatal; callers
// typically log and move on.
func (t *Trail) Record(userID string, lic license.License, action string, detail map[string]any) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		License:   string(lic),
		Action:    action,
		Detail:    detail,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.logPath(userID, lic)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Read returns the user's entries for one license tier, oldest first.
func (t *Trail) Read(userID string, lic license.License) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.logPath(userID, lic))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			// A torn last line from a crash is skipped, not fatal.
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
