// Package version reports the syncpulse build, as stamped by the linker:
//
//	go build -ldflags "-X github.com/pscheid92/syncpulse/internal/platform/version.Version=v1.2.3 ..."
package version

import (
	"fmt"
	"runtime"
)

// Service is the name reported alongside every build.
const Service = "syncpulse"

// Set via -ldflags -X; unstamped builds report the defaults.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the payload of GET /version.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Service:   Service,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String renders the build as "syncpulse v1.2.3 (abc123)".
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s)", i.Service, i.Version, i.Commit)
}
