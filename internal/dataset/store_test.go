package dataset

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smahud/traffic-buster/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSanitizeSetName(t *testing.T) {
	assert.Equal(t, "my_set", SanitizeSetName("My Set"))
	assert.Equal(t, "a_b_c", SanitizeSetName("a/b/c"))
	assert.Equal(t, "", SanitizeSetName("  "))
}

func TestSaveAndLoadTargets(t *testing.T) {
	s := newTestStore(t)

	raw := []byte(`[
		{"url": "https://example.com", "flowTarget": 3, "clickTarget": 1},
		{"url": "https://EXAMPLE.com", "flowTarget": 9},
		{"url": "", "flowTarget": 1},
		{"id": "custom", "url": "https://other.test", "flowTarget": -2}
	]`)
	kept, err := s.Save("alice", models.KindTargets, "main", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	targets, err := s.Targets("alice", "main")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "t_1", targets[0].ID)
	assert.Equal(t, 3, targets[0].FlowTarget)
	assert.Equal(t, "custom", targets[1].ID)
	assert.Equal(t, 0, targets[1].FlowTarget)
}

func TestSaveProxiesDefaultsEnabled(t *testing.T) {
	s := newTestStore(t)

	raw := []byte(`[
		{"host": "10.0.0.1", "port": 8080},
		{"host": "10.0.0.2", "port": 8080, "enabled": false},
		{"host": "10.0.0.1", "port": 8080},
		{"host": "", "port": 8080}
	]`)
	kept, err := s.Save("alice", models.KindProxies, "pool", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	proxies, err := s.Proxies("alice", "pool")
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.True(t, proxies[0].Enabled)
	assert.False(t, proxies[1].Enabled)
}

func TestSettingsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Settings("alice", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsNormalized(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("alice", models.KindSettings, "default", []byte(`{"instanceCount": 0}`))
	require.NoError(t, err)

	settings, err := s.Settings("alice", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, settings.InstanceCount)
	assert.Equal(t, 1000, settings.SessionDuration.Min)
}

func TestSetProxyEnabledPersists(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("alice", models.KindProxies, "pool", []byte(`[{"id":"p1","host":"h","port":1}]`))
	require.NoError(t, err)

	require.NoError(t, s.SetProxyEnabled("alice", "pool", "p1", false))

	proxies, err := s.Proxies("alice", "pool")
	require.NoError(t, err)
	assert.False(t, proxies[0].Enabled)

	assert.ErrorIs(t, s.SetProxyEnabled("alice", "pool", "missing", false), ErrNotFound)
}

func TestSetProxyEnabledConcurrentDisables(t *testing.T) {
	s := newTestStore(t)

	const n = 8
	raw := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			raw += ","
		}
		raw += fmt.Sprintf(`{"id":"p%d","host":"10.0.0.%d","port":8080}`, i, i+1)
	}
	raw += "]"
	_, err := s.Save("alice", models.KindProxies, "pool", []byte(raw))
	require.NoError(t, err)

	// Every worker burns a different proxy at the same time; no disable
	// may be lost to an overlapping read-modify-write.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SetProxyEnabled("alice", "pool", fmt.Sprintf("p%d", i), false))
		}(i)
	}
	wg.Wait()

	proxies, err := s.Proxies("alice", "pool")
	require.NoError(t, err)
	require.Len(t, proxies, n)
	for _, p := range proxies {
		assert.False(t, p.Enabled, "proxy %s still enabled on disk", p.ID)
	}
}

func TestListAndDelete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("alice", models.KindTargets, "one", []byte(`[{"url":"https://a.test","flowTarget":1}]`))
	require.NoError(t, err)
	_, err = s.Save("alice", models.KindTargets, "two", []byte(`[]`))
	require.NoError(t, err)

	infos, err := s.List("alice", models.KindTargets)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	require.NoError(t, s.Delete("alice", models.KindTargets, "one"))
	assert.ErrorIs(t, s.Delete("alice", models.KindTargets, "one"), ErrNotFound)

	infos, err = s.List("alice", models.KindTargets)
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	// Listing a kind that was never written is empty, not an error.
	infos, err = s.List("alice", models.KindPlatforms)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestChunkedUpload(t *testing.T) {
	s := newTestStore(t)

	uploadID, err := s.BeginUpload("alice", models.KindTargets, "bulk")
	require.NoError(t, err)

	payload := `[{"url":"https://a.test","flowTarget":2},{"url":"https://b.test","flowTarget":1}]`
	half := len(payload) / 2
	require.NoError(t, s.AppendChunk("alice", uploadID, 0, []byte(payload[:half])))
	require.NoError(t, s.AppendChunk("alice", uploadID, 1, []byte(payload[half:])))

	kept, err := s.FinalizeUpload("alice", uploadID)
	require.NoError(t, err)
	assert.Equal(t, 2, kept)

	targets, err := s.Targets("alice", "bulk")
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	// Session is gone after finalize.
	_, err = s.FinalizeUpload("alice", uploadID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadUnknownKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BeginUpload("alice", models.DatasetKind("bogus"), "x")
	assert.Error(t, err)
}

func TestParseResolution(t *testing.T) {
	for res, want := range map[string]bool{
		"1920x1080": true,
		"800x600":   true,
		"0x100":     false,
		"wide":      false,
	} {
		_, _, ok := ParseResolution(res)
		assert.Equal(t, want, ok, fmt.Sprintf("resolution %q", res))
	}
}
