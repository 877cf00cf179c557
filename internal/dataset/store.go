// Package dataset stores the per-user target, proxy, platform and settings
// collections as JSON files under users/<userId>/datasets/<kind>/<set>.json.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrNotFound is returned when a dataset file does not exist.
var ErrNotFound = errors.New("dataset not found")

const (
	datasetsDirName = "datasets"
	tmpDirName      = "tmp"
	maxChunks       = 1000
)

// Store is the file-backed dataset repository. Writers serialize on mu so
// concurrent read-modify-write updates (failover disabling proxies from k
// workers, API saves) never overwrite each other; readers rely on the
// atomic rename in write for a consistent view.
type Store struct {
	usersDir string
	mu       sync.Mutex
}

// NewStore creates the users directory if needed.
func NewStore(usersDir string) (*Store, error) {
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}
	return &Store{usersDir: usersDir}, nil
}

func (s *Store) kindDir(userID string, kind models.DatasetKind) string {
	return filepath.Join(s.usersDir, userID, datasetsDirName, string(kind))
}

func (s *Store) filePath(userID string, kind models.DatasetKind, set string) string {
	return filepath.Join(s.kindDir(userID, kind), SanitizeSetName(set)+".json")
}

func (s *Store) read(userID string, kind models.DatasetKind, set string, out any) error {
	data, err := os.ReadFile(s.filePath(userID, kind, set))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, set)
		}
		return fmt.Errorf("failed to read dataset %s/%s: %w", kind, set, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("dataset %s/%s is corrupt: %w", kind, set, err)
	}
	return nil
}

func (s *Store) write(userID string, kind models.DatasetKind, set string, v any) error {
	dir := s.kindDir(userID, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	// Write through a temp file so readers never see a partial dataset.
	tmp := s.filePath(userID, kind, set) + ".tmp." + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := os.Rename(tmp, s.filePath(userID, kind, set)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize dataset: %w", err)
	}
	return nil
}

// Targets loads a target set.
func (s *Store) Targets(userID, set string) ([]models.Target, error) {
	var out []models.Target
	if err := s.read(userID, models.KindTargets, set, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Proxies loads a proxy set.
func (s *Store) Proxies(userID, set string) ([]models.Proxy, error) {
	var out []models.Proxy
	if err := s.read(userID, models.KindProxies, set, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Platforms loads a platform set.
func (s *Store) Platforms(userID, set string) ([]models.Platform, error) {
	var out []models.Platform
	if err := s.read(userID, models.KindPlatforms, set, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Settings loads a settings profile.
func (s *Store) Settings(userID, profile string) (models.Settings, error) {
	var out models.Settings
	if err := s.read(userID, models.KindSettings, profile, &out); err != nil {
		return models.Settings{}, err
	}
	return out, nil
}

// Save normalizes raw JSON for the kind and persists it. It returns the
// number of items kept (1 for settings).
func (s *Store) Save(userID string, kind models.DatasetKind, set string, raw []byte) (int, error) {
	if !models.ValidKind(kind) {
		return 0, fmt.Errorf("unknown dataset kind %q", kind)
	}
	if SanitizeSetName(set) == "" {
		return 0, errors.New("dataset set name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case models.KindTargets:
		var items []models.Target
		if err := json.Unmarshal(raw, &items); err != nil {
			return 0, fmt.Errorf("targets payload must be a JSON array: %w", err)
		}
		kept := NormalizeTargets(items)
		return len(kept), s.write(userID, kind, set, kept)
	case models.KindProxies:
		var items []proxyUpload
		if err := json.Unmarshal(raw, &items); err != nil {
			return 0, fmt.Errorf("proxies payload must be a JSON array: %w", err)
		}
		kept := NormalizeProxies(proxiesFromUpload(items))
		return len(kept), s.write(userID, kind, set, kept)
	case models.KindPlatforms:
		var items []models.Platform
		if err := json.Unmarshal(raw, &items); err != nil {
			return 0, fmt.Errorf("platforms payload must be a JSON array: %w", err)
		}
		kept := NormalizePlatforms(items)
		return len(kept), s.write(userID, kind, set, kept)
	default: // settings
		var settings models.Settings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return 0, fmt.Errorf("settings payload must be a JSON object: %w", err)
		}
		return 1, s.write(userID, kind, set, NormalizeSettings(settings))
	}
}

// proxyUpload accepts proxy items whose enabled flag is absent, defaulting
// it to true instead of Go's zero false.
type proxyUpload struct {
	models.Proxy
	EnabledRaw *bool `json:"enabled"`
}

func proxiesFromUpload(in []proxyUpload) []models.Proxy {
	out := make([]models.Proxy, 0, len(in))
	for _, item := range in {
		p := item.Proxy
		p.Enabled = item.EnabledRaw == nil || *item.EnabledRaw
		out = append(out, p)
	}
	return out
}

// SetInfo describes one stored set.
type SetInfo struct {
	Name      string    `json:"name"`
	Items     int       `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List enumerates the user's sets of one kind, newest first.
func (s *Store) List(userID string, kind models.DatasetKind) ([]SetInfo, error) {
	entries, err := os.ReadDir(s.kindDir(userID, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return []SetInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	infos := make([]SetInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		setName := strings.TrimSuffix(name, ".json")
		info := SetInfo{Name: setName}
		if fi, err := entry.Info(); err == nil {
			info.UpdatedAt = fi.ModTime()
		}
		if kind != models.KindSettings {
			var items []json.RawMessage
			if s.read(userID, kind, setName, &items) == nil {
				info.Items = len(items)
			}
		} else {
			info.Items = 1
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

// Raw returns the stored JSON for a set without decoding it.
func (s *Store) Raw(userID string, kind models.DatasetKind, set string) ([]byte, error) {
	data, err := os.ReadFile(s.filePath(userID, kind, set))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, set)
		}
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return data, nil
}

// Delete removes a set.
func (s *Store) Delete(userID string, kind models.DatasetKind, set string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.filePath(userID, kind, set))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, set)
	}
	return err
}

// SetProxyEnabled updates one proxy's persisted enabled flag in place. Used
// by the failover protocol to make a mid-run outage durable.
func (s *Store) SetProxyEnabled(userID, set, proxyID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxies, err := s.Proxies(userID, set)
	if err != nil {
		return err
	}
	found := false
	for i := range proxies {
		if proxies[i].ID == proxyID {
			proxies[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: proxy %s in set %s", ErrNotFound, proxyID, set)
	}
	return s.write(userID, models.KindProxies, set, proxies)
}
