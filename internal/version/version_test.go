package version

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withVars(t *testing.T, version, commit, built string) {
	t.Helper()
	oldVersion, oldCommit, oldBuilt := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, built
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuilt
	})
}

func TestReleaseBuild(t *testing.T) {
	withVars(t, "v1.2.3", "0123456789abcdef", "2025-06-01T12:00:00Z")

	assert.Equal(t, "v1.2.3", GetVersion())
	assert.Equal(t, "0123456789abcdef", GetGitCommit())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
	assert.True(t, IsRelease())
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), GetBuildTime())

	info := GetBuildInfo()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	s := info.String()
	assert.True(t, strings.HasPrefix(s, "Version: v1.2.3\n"))
	assert.Contains(t, s, "Commit: 0123456789abcdef")
	assert.Contains(t, s, "Built: 2025-06-01T12:00:00Z")
}

func TestDevelopmentBuild(t *testing.T) {
	withVars(t, "dev", "unknown", "unknown")

	assert.NotEmpty(t, GetVersion())
	assert.NotEmpty(t, GetShortVersion())
	assert.NotEmpty(t, GetGitCommit())
	assert.Contains(t, GetBuildInfo().String(), "Platform: ")
}

func TestShortVersionWithoutCommit(t *testing.T) {
	withVars(t, "v0.1.0", "abc", "not a time")

	assert.Equal(t, "v0.1.0", GetShortVersion())
	assert.True(t, GetBuildTime().IsZero() || GetBuildTime().Year() > 2000)
}
