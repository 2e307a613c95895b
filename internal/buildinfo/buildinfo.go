// Package buildinfo describes the running tracker: build metadata set with
// -ldflags plus the workspace and channel it was started for.
package buildinfo

import (
	"runtime"
	"sync"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info is reported on /debug/info.
type Info struct {
	Version     string `json:"version"`
	Commit      string `json:"commit,omitempty"`
	BuiltAt     string `json:"builtAt,omitempty"`
	GoVersion   string `json:"goVersion"`
	Workspace   string `json:"workspace,omitempty"`
	ChannelKind string `json:"channelKind,omitempty"`
}

var (
	mu          sync.RWMutex
	workspace   string
	channelKind string
)

// SetDeployment records which workspace and push channel this process
// tracks. serve calls it once after loading configuration.
func SetDeployment(ws, kind string) {
	mu.Lock()
	workspace, channelKind = ws, kind
	mu.Unlock()
}

func Current() Info {
	mu.RLock()
	defer mu.RUnlock()
	return Info{
		Version:     Version,
		Commit:      Commit,
		BuiltAt:     BuiltAt,
		GoVersion:   runtime.Version(),
		Workspace:   workspace,
		ChannelKind: channelKind,
	}
}

// UserAgent identifies the tracker to the backend, e.g.
// "fleettrack/1.2.0 (abc123; ws=acme)".
func UserAgent() string {
	i := Current()
	ua := "fleettrack/" + i.Version
	var extra string
	if i.Commit != "" {
		extra = i.Commit
	}
	if i.Workspace != "" {
		if extra != "" {
			extra += "; "
		}
		extra += "ws=" + i.Workspace
	}
	if extra == "" {
		return ua
	}
	return ua + " (" + extra + ")"
}
