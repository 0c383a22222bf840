package version

import (
	"runtime"
	"runtime/debug"
)

// Set via -ldflags "-X github.com/pscheid92/livealert/internal/platform/version.Version=v1.2.3".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

const (
	ServiceName = "livealert"
	projectURL  = "https://github.com/pscheid92/livealert"
	unknown     = "unknown"
)

type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information. Commit and build time fall back to the VCS
// stamp embedded by the toolchain when ldflags left them empty.
func Get() Info {
	info := Info{
		Service:   ServiceName,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	if info.Commit == "" {
		info.Commit = unknown
	}
	if info.BuildTime == "" {
		info.BuildTime = unknown
	}
	return info
}

func applyVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		}
	}
}

// UserAgent identifies the service to the Helix API.
func UserAgent() string {
	return ServiceName + "/" + Version
}

// DiscordUserAgent follows the "DiscordBot (url, version)" form the Discord API requires.
func DiscordUserAgent() string {
	return "DiscordBot (" + projectURL + ", " + Version + ")"
}
