package target

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(title, path string) DebugTarget {
	return DebugTarget{
		ID:                   path,
		Title:                title,
		Type:                 "node",
		WebSocketDebuggerURL: "ws://localhost:9222/" + path,
	}
}

// TestExtractVersion tests parsing the VCS marker out of titles
func TestExtractVersion(t *testing.T) {
	tests := []struct {
		title string
		want  uint32
	}{
		{" @localhost VCS_8 Dynamics", 8},
		{"... VCS_8 ...", 8},
		{"VCS_123Events", 123},
		{"no marker here", 0},
		{"VCS_ end", 0},
		{"VCS_", 0},
		{"VCS_12 and VCS_99", 12},
		{"VCS_99999999999999 overflow", 0},
		{"vcs_5 lowercase", 0},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractVersion(tt.title))
		})
	}
}

// TestSelectEmpty tests that no candidates yields no selection
func TestSelectEmpty(t *testing.T) {
	_, ok := Select(nil, 7)
	assert.False(t, ok)
}

// TestSelectHighestVersion tests that the selected target has the maximum version
func TestSelectHighestVersion(t *testing.T) {
	candidates := []DebugTarget{
		mk("VCS_3 Dynamics", "a"),
		mk("VCS_9 Dynamics", "b"),
		mk("VCS_4 Dynamics", "c"),
	}

	sel, ok := Select(candidates, 0)
	require.True(t, ok)
	assert.Equal(t, "b", sel.Target.ID)
	assert.Equal(t, uint32(9), sel.Version)
	assert.Equal(t, uint32(9), sel.Highest)

	for _, c := range candidates {
		assert.GreaterOrEqual(t, sel.Version, ExtractVersion(c.Title))
	}
}

// TestSelectTieLastWins tests that the last of several tying candidates wins
func TestSelectTieLastWins(t *testing.T) {
	candidates := []DebugTarget{
		mk("VCS_5 Events", "first"),
		mk("VCS_2 Events", "low"),
		mk("VCS_5 Events", "second"),
		mk("VCS_5 Events", "third"),
	}

	sel, ok := Select(candidates, 0)
	require.True(t, ok)
	assert.Equal(t, "third", sel.Target.ID)

	// all unversioned: last element wins
	sel, ok = Select([]DebugTarget{mk("Dynamics", "x"), mk("Dynamics", "y")}, 0)
	require.True(t, ok)
	assert.Equal(t, "y", sel.Target.ID)
	assert.Equal(t, uint32(0), sel.Version)
}

// TestSelectRatchetNeverDecreases tests the version ratchet over a sequence of calls
func TestSelectRatchetNeverDecreases(t *testing.T) {
	versions := []string{"VCS_4", "VCS_10", "VCS_2", "none", "VCS_10", "VCS_11", "VCS_1"}

	var highest uint32
	for _, v := range versions {
		sel, ok := Select([]DebugTarget{mk(v+" Dynamics", v)}, highest)
		require.True(t, ok)
		assert.GreaterOrEqual(t, sel.Highest, highest, "ratchet went down at %s", v)
		highest = sel.Highest
	}
	assert.Equal(t, uint32(11), highest)
}

// TestPartition tests splitting a catalog by category keyword
func TestPartition(t *testing.T) {
	catalog := []DebugTarget{
		mk("VCS_1 Dynamics", "d1"),
		mk("VCS_1 EVENTS", "e1"),
		mk("something else", "x"),
		mk("VCS_2 dynamics", "d2"),
	}

	parts := Partition(catalog)
	require.Len(t, parts[Dynamics], 2)
	assert.Equal(t, "d1", parts[Dynamics][0].ID)
	assert.Equal(t, "d2", parts[Dynamics][1].ID)
	require.Len(t, parts[Events], 1)
	assert.Equal(t, "e1", parts[Events][0].ID)
}

// TestPathToken tests extracting the last URL segment
func TestPathToken(t *testing.T) {
	assert.Equal(t, "abc-123", PathToken("ws://localhost:9222/abc-123"))
	assert.Equal(t, "", PathToken("ws://localhost:9222/"))
	assert.Equal(t, "bare", PathToken("bare"))
}

// TestDetect tests classification of selections against the current path
func TestDetect(t *testing.T) {
	log, hook := test.NewNullLogger()

	sel, ok := Select([]DebugTarget{mk("VCS_3 Dynamics", "p1")}, 0)
	require.True(t, ok)

	c := Detect(sel, ok, "", false, Dynamics, 1, log)
	assert.Equal(t, Initial, c.Kind)
	assert.Equal(t, "p1", c.NewPath)
	assert.Equal(t, uint32(3), c.Version)

	c = Detect(sel, ok, "p1", true, Dynamics, 1, log)
	assert.Equal(t, Unchanged, c.Kind)
	assert.Equal(t, uint32(3), c.Version)

	c = Detect(sel, ok, "p0", true, Dynamics, 1, log)
	assert.Equal(t, Changed, c.Kind)
	assert.Equal(t, "p0", c.OldPath)
	assert.Equal(t, "p1", c.NewPath)

	assert.Empty(t, hook.AllEntries())
}

// TestDetectIdempotent tests that detecting twice after applying the path is Unchanged
func TestDetectIdempotent(t *testing.T) {
	log, _ := test.NewNullLogger()
	sel, ok := Select([]DebugTarget{mk("VCS_4 Dynamics", "next")}, 3)

	first := Detect(sel, ok, "prev", true, Dynamics, 1, log)
	require.Equal(t, Changed, first.Kind)

	second := Detect(sel, ok, first.NewPath, true, Dynamics, 1, log)
	assert.Equal(t, Unchanged, second.Kind)
}

// TestDetectNoUsableTarget tests empty selections and empty path tokens
func TestDetectNoUsableTarget(t *testing.T) {
	log, _ := test.NewNullLogger()

	c := Detect(Selection{}, false, "", false, Events, 0, log)
	assert.Equal(t, Unchanged, c.Kind)
	assert.Equal(t, uint32(0), c.Version)

	sel := Selection{Target: DebugTarget{Title: "VCS_6 Events", WebSocketDebuggerURL: "ws://host:9222/"}, Version: 6, Highest: 6}
	c = Detect(sel, true, "", false, Events, 1, log)
	assert.Equal(t, Unchanged, c.Kind)
	assert.Equal(t, uint32(6), c.Version)
}

// TestDetectWarnsOnAmbiguousTargets tests the multiple-candidates warning
func TestDetectWarnsOnAmbiguousTargets(t *testing.T) {
	log, hook := test.NewNullLogger()
	candidates := []DebugTarget{mk("VCS_1 Events", "a"), mk("VCS_2 Events", "b")}
	sel, ok := Select(candidates, 0)

	c := Detect(sel, ok, "", false, Events, len(candidates), log)
	assert.Equal(t, Initial, c.Kind)
	assert.Equal(t, "b", c.NewPath)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "Multiple alive Events targets")
}
