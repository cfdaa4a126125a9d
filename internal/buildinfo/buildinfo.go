// Package buildinfo reports the version the binary was built from.
// Release builds stamp the variables below with -ldflags; other builds
// fall back to the VCS data the Go toolchain embeds.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Set with -ldflags "-X github.com/nugget/taskpilot/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

var started = time.Now()

// Info is the build and runtime description served by the version
// command and endpoint.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	Dirty     string `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Uptime    string `json:"uptime"`
}

var vcs = sync.OnceValue(func() (v struct{ revision, time, dirty string }) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.time":
			v.time = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				v.dirty = "true"
			}
		}
	}
	return v
})

// Get returns the current build description.
func Get() Info {
	v := vcs()
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    Uptime().String(),
	}
	if info.GitCommit == "" {
		info.GitCommit = shortRev(v.revision)
		info.Dirty = v.dirty
	}
	if info.BuildTime == "" {
		info.BuildTime = v.time
	}
	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return "taskpilot/" + Version
}

// String is the one-line form used in logs and --version output.
func String() string {
	i := Get()
	s := "taskpilot " + i.Version + " (" + i.GitCommit
	if i.Dirty != "" {
		s += "+dirty"
	}
	return s + ") built " + i.BuildTime
}
