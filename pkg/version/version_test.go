package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func withStamp(t *testing.T, version, commit, built string) {
	t.Helper()
	v, c, b := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = v, c, b })
}

func TestGetVersionInfoDefaults(t *testing.T) {
	withBuildInfo(t, nil)
	info := GetVersionInfo()

	if !strings.Contains(info, "scenecap version dev") {
		t.Errorf("version info should contain default version, got %q", info)
	}
	if !strings.Contains(info, "commit: unknown") {
		t.Errorf("version info should contain 'unknown' commit, got %q", info)
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("version info should contain Go version %s", runtime.Version())
	}
}

func TestGetVersionInfoWithCustomValues(t *testing.T) {
	withStamp(t, "v1.0.0", "abc123", "2024-01-01T00:00:00Z")
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "v0.9.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffffffffff"}},
	})

	info := GetVersionInfo()
	for _, want := range []string{"v1.0.0", "abc123", "2024-01-01T00:00:00Z"} {
		if !strings.Contains(info, want) {
			t.Errorf("version info should contain stamped %q, got %q", want, info)
		}
	}
}

func TestGetFallsBackToBuildInfo(t *testing.T) {
	is := is.New(t)
	withStamp(t, "dev", "unknown", "unknown")
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Get()
	is.Equal(info.Version, "v0.3.1")
	is.Equal(info.GitCommit, "0123456789ab")
	is.Equal(info.BuildTime, "2026-10-01T12:00:00Z")
	is.True(info.Modified)
	is.True(strings.Contains(GetVersionInfo(), "commit: 0123456789ab-dirty"))
}

func TestGetIgnoresDevelBuild(t *testing.T) {
	is := is.New(t)
	withStamp(t, "dev", "unknown", "unknown")
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	is.Equal(Get().Version, "dev")
}
