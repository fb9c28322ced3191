package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the finpath binary. Set with -ldflags.
	Version = "dev"
	// Commit is the git commit hash. Set with -ldflags.
	Commit = "unknown"
	// BuildDate is the build timestamp. Set with -ldflags.
	BuildDate = "unknown"
)

// Info is build metadata as reported by the CLI and the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\ngo: %s", i.Version, i.Commit, i.BuildDate, i.GoVersion)
}
