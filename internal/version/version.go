package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

var (
	vcsOnce sync.Once
	vcs     struct {
		revision string
		time     string
		modified bool
	}
)

// readVCS fills commit and date from the embedded build info when the
// binary was built without ldflags.
func readVCS() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vcs.revision = s.Value
		case "vcs.time":
			vcs.time = s.Value
		case "vcs.modified":
			vcs.modified = s.Value == "true"
		}
	}
}

// Get returns version and build information.
func Get() Info {
	vcsOnce.Do(readVCS)

	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Modified:  vcs.modified,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if info.GitCommit == "unknown" && vcs.revision != "" {
		info.GitCommit = shortRevision(vcs.revision)
	}
	if info.BuildDate == "unknown" && vcs.time != "" {
		info.BuildDate = vcs.time
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// String returns the application version string.
func String() string {
	return Version
}

// UserAgent identifies the agent to the signaling server.
func UserAgent() string {
	return fmt.Sprintf("deskstream/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
