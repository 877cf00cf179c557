package license

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserFile(t *testing.T, usersDir, userID, content string) {
	t.Helper()
	dir := filepath.Join(usersDir, userID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "license.json"), []byte(content), 0o644))
}

func TestLoadOverrides(t *testing.T) {
	usersDir := t.TempDir()
	writeUserFile(t, usersDir, "u1", `{"maxTargets": 5, "allowScheduler": false}`)

	o := LoadOverrides(usersDir, "u1")
	require.NotNil(t, o)
	require.NotNil(t, o.MaxTargets)
	assert.Equal(t, 5, *o.MaxTargets)

	// The loaded overrides feed Derive the same way API overrides do.
	m := Derive(Premium, o)
	assert.Equal(t, 5, m.MaxTargets)
	assert.False(t, m.AllowScheduler)
}

func TestLoadOverridesMissingFile(t *testing.T) {
	assert.Nil(t, LoadOverrides(t.TempDir(), "ghost"))
}

func TestLoadOverridesCorruptFile(t *testing.T) {
	usersDir := t.TempDir()
	writeUserFile(t, usersDir, "u1", `{not json`)
	assert.Nil(t, LoadOverrides(usersDir, "u1"))
}
