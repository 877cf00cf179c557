package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/pkg/models"
)

type launchRecorder struct {
	mu      sync.Mutex
	entries []models.DatasetRefs
	users   []string
}

func (r *launchRecorder) launch(userID string, _ license.License, refs models.DatasetRefs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.entries = append(r.entries, refs)
}

func (r *launchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestScheduler(t *testing.T) (*Scheduler, *launchRecorder) {
	t.Helper()
	rec := &launchRecorder{}
	s, err := NewScheduler(t.TempDir(), rec.launch)
	require.NoError(t, err)
	return s, rec
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.Create("u1", models.ScheduledJob{Occurrence: models.OccurrenceDaily})
	require.Error(t, err)

	_, err = s.Create("u1", models.ScheduledJob{Occurrence: "Fortnightly", NextRun: time.Now()})
	require.Error(t, err)

	sched, err := s.Create("u1", models.ScheduledJob{
		Name:       "nightly",
		Occurrence: models.OccurrenceDaily,
		NextRun:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.Equal(t, "active", sched.Status)
}

func TestListAndDelete(t *testing.T) {
	s, _ := newTestScheduler(t)

	a, err := s.Create("u1", models.ScheduledJob{Occurrence: models.OccurrenceOnce, NextRun: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.Create("u1", models.ScheduledJob{Occurrence: models.OccurrenceWeekly, NextRun: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.Len(t, s.List("u1"), 2)
	assert.Empty(t, s.List("u2"))

	require.NoError(t, s.Delete("u1", a.ID))
	require.Len(t, s.List("u1"), 1)
	require.ErrorIs(t, s.Delete("u1", a.ID), ErrNotFound)
}

func TestSweepFiresDueOnce(t *testing.T) {
	s, rec := newTestScheduler(t)
	now := time.Now()

	sched, err := s.Create("u1", models.ScheduledJob{
		Occurrence: models.OccurrenceOnce,
		NextRun:    now.Add(-time.Minute),
		License:    "premium",
		Payload:    models.DatasetRefs{TargetSet: "main", SettingsProfile: "default"},
	})
	require.NoError(t, err)

	s.Sweep(now)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	refs := rec.entries[0]
	rec.mu.Unlock()
	assert.Equal(t, "main", refs.TargetSet)
	assert.Equal(t, sched.ID, refs.ScheduleID)

	// A Once schedule retires after firing.
	got := s.List("u1")
	require.Len(t, got, 1)
	assert.Equal(t, "done", got[0].Status)

	s.Sweep(now.Add(time.Hour))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestSweepAdvancesDaily(t *testing.T) {
	s, rec := newTestScheduler(t)
	now := time.Now()
	first := now.Add(-30 * time.Hour)

	_, err := s.Create("u1", models.ScheduledJob{
		Occurrence: models.OccurrenceDaily,
		NextRun:    first,
	})
	require.NoError(t, err)

	s.Sweep(now)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	// NextRun skipped past the downtime gap in one step.
	got := s.List("u1")
	require.Len(t, got, 1)
	assert.Equal(t, "active", got[0].Status)
	assert.True(t, got[0].NextRun.After(now))
	assert.True(t, got[0].NextRun.Sub(now) <= 24*time.Hour)
}

func TestSweepAdvancesWeekly(t *testing.T) {
	s, rec := newTestScheduler(t)
	now := time.Now()

	_, err := s.Create("u1", models.ScheduledJob{
		Occurrence: models.OccurrenceWeekly,
		NextRun:    now.Add(-time.Minute),
	})
	require.NoError(t, err)

	s.Sweep(now)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	got := s.List("u1")
	require.Len(t, got, 1)
	expected := now.Add(-time.Minute).Add(7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, got[0].NextRun, time.Second)
}

func TestSweepSkipsFutureAndInactive(t *testing.T) {
	s, rec := newTestScheduler(t)
	now := time.Now()

	_, err := s.Create("u1", models.ScheduledJob{
		Occurrence: models.OccurrenceDaily,
		NextRun:    now.Add(time.Hour),
	})
	require.NoError(t, err)

	s.Sweep(now)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.tick = 10 * time.Millisecond
	s.Start()
	s.Start() // second call is a no-op
	s.Stop()
	s.Stop()
}
