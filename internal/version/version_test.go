package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setBuildInfo overrides the ldflags variables for a test and restores them
// on cleanup.
func setBuildInfo(t *testing.T, version, commit, date, branch, treeState string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	origBranch, origTree := Branch, TreeState
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
		Branch, TreeState = origBranch, origTree
	})
	Version, Commit, Date = version, commit, date
	Branch, TreeState = branch, treeState
}

func TestGetInfo(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789", "2026-03-01T12:00:00Z", "main", "clean")

	info := GetInfo()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123def456789", info.Commit)
	assert.Equal(t, "abc123de", info.CommitSHA)
	assert.Equal(t, "main", info.Branch)
	assert.Equal(t, "clean", info.TreeState)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.GoVersion)
}

func TestString(t *testing.T) {
	t.Run("dev build", func(t *testing.T) {
		setBuildInfo(t, "dev", "unknown", "unknown", "unknown", "unknown")
		s := String()
		assert.Contains(t, s, ApplicationName)
		assert.Contains(t, s, "version dev")
	})

	t.Run("tagged build", func(t *testing.T) {
		setBuildInfo(t, "1.0.0", "abc123def456789", "2026-03-01T12:00:00Z", "main", "clean")
		s := String()
		assert.Contains(t, s, "commit: abc123de")
		assert.Contains(t, s, "branch: main")
		assert.Contains(t, s, "built: 2026-03-01")
	})

	t.Run("dirty tree marks commit", func(t *testing.T) {
		setBuildInfo(t, "1.0.0", "abc123def456789", "unknown", "unknown", "dirty")
		assert.Contains(t, String(), "abc123de*")
	})
}

func TestShort(t *testing.T) {
	setBuildInfo(t, "1.0.0", "abc123def456789", "unknown", "unknown", "dirty")

	s := Short()
	assert.Equal(t, "1.0.0 (abc123de*)", s)
	assert.NotContains(t, s, ApplicationName, "cobra prepends the binary name")

	setBuildInfo(t, "1.0.0", "unknown", "unknown", "unknown", "unknown")
	assert.Equal(t, "1.0.0", Short())
}

func TestUserAgent(t *testing.T) {
	setBuildInfo(t, "2.1.0", "unknown", "unknown", "unknown", "unknown")
	assert.Equal(t, ApplicationName+"/2.1.0", UserAgent())
}

func TestSnapshotDetection(t *testing.T) {
	tests := []struct {
		version  string
		snapshot bool
		release  bool
	}{
		{"dev", true, false},
		{"1.0.0", false, true},
		{"1.0.1-SNAPSHOT.abc1234", true, false},
		{"1.2.3-alpha.1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			setBuildInfo(t, tt.version, "unknown", "unknown", "unknown", "unknown")
			assert.Equal(t, tt.snapshot, IsSnapshot())
			assert.Equal(t, tt.release, IsRelease())
		})
	}
}

func TestJSON(t *testing.T) {
	setBuildInfo(t, "1.2.3", "abc123def456789", "2026-03-01T12:00:00Z", "feature", "clean")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123de", info.CommitSHA)
	assert.Equal(t, "feature", info.Branch)
}
