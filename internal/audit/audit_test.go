package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smahud/traffic-buster/internal/license"
)

func TestRecordAndRead(t *testing.T) {
	trail, err := NewTrail(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, trail.Record("u1", license.Premium, "job.create", map[string]any{"jobId": "job_1"}))
	require.NoError(t, trail.Record("u1", license.Premium, "job.stop", nil))
	require.NoError(t, trail.Record("u1", license.Free, "dataset.save", nil))
	require.NoError(t, trail.Record("u2", license.Premium, "job.create", nil))

	entries, err := trail.Read("u1", license.Premium)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job.create", entries[0].Action)
	assert.Equal(t, "job_1", entries[0].Detail["jobId"])
	assert.Equal(t, "job.stop", entries[1].Action)

	free, err := trail.Read("u1", license.Free)
	require.NoError(t, err)
	require.Len(t, free, 1)
}

func TestReadMissingLogIsEmpty(t *testing.T) {
	trail, err := NewTrail(t.TempDir())
	require.NoError(t, err)

	entries, err := trail.Read("ghost", license.Enterprise)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
