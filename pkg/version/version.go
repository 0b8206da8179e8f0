package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags at build time.
var (
	Tag       = "v0.0.0-dev"
	GitCommit = "HEAD"
)

type Version struct {
	Tag       string `json:"tag,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
}

func (v Version) String() string {
	if len(v.GitCommit) < 12 {
		return v.Tag
	}
	return fmt.Sprintf("%s (%s)", v.Tag, v.GitCommit[:12])
}

func Get() Version {
	return Version{
		Tag:       Tag,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}
