// Package version holds build metadata, set with -ldflags:
//
//	go build -ldflags "-X github.com/jackzampolin/audiodoc/version.GitRelease=v0.1.0"
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	GitRelease    = "dev"
	GitCommit     = ""
	GitCommitDate = ""
	GoInfo        = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
)

func init() {
	if GitCommit != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			GitCommitDate = s.Value
		}
	}
}
