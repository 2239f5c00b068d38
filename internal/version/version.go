package version

import (
	"fmt"
	"runtime"
)

const product = "esi-router"

// Set with -ldflags "-X github.com/r9s-ai/esi-router/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

type Info struct {
	Product   string `json:"product"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Product:   product,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s\ncommit: %s\nbuilt at: %s\ngo version: %s\nplatform: %s",
		i.Product, i.Version, i.Commit, i.BuildDate, i.GoVersion, i.Platform)
}

// Short is the version plus an abbreviated commit when one was stamped in.
func Short() string {
	if Commit == "unknown" || len(Commit) <= 7 {
		return Version
	}
	return Version + " (" + Commit[:7] + ")"
}

// UserAgent is sent on fragment fetches unless upstream.user_agent is set.
// Only the version goes in; the commit would make the token contain spaces.
func UserAgent() string {
	return product + "/" + Version
}
