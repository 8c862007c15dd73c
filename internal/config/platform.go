package config

import "git.home.luguber.info/inful/buildorch/internal/foundation/normalization"

// Platform identifies the build target of a process.
type Platform string

const (
	PlatformUnknown   Platform = ""
	PlatformWindows   Platform = "windows"
	PlatformWindows64 Platform = "windows64"
	PlatformLinux64   Platform = "linux64"
	PlatformMacOS     Platform = "macos"
	PlatformAndroid   Platform = "android"
	PlatformIOS       Platform = "ios"
	PlatformWebGL     Platform = "webgl"
	PlatformSwitch    Platform = "switch"
)

var platformNormalizer = normalization.NewNormalizer(map[string]Platform{
	"windows":              PlatformWindows,
	"standalone_windows":   PlatformWindows,
	"windows64":            PlatformWindows64,
	"win64":                PlatformWindows64,
	"standalone_windows64": PlatformWindows64,
	"linux64":              PlatformLinux64,
	"standalone_linux64":   PlatformLinux64,
	"macos":                PlatformMacOS,
	"osx":                  PlatformMacOS,
	"android":              PlatformAndroid,
	"ios":                  PlatformIOS,
	"webgl":                PlatformWebGL,
	"switch":               PlatformSwitch,
}, PlatformUnknown)

// NormalizePlatform maps aliases onto a Platform, returning an error for unknown names.
func NormalizePlatform(raw string) (Platform, error) {
	return platformNormalizer.NormalizeWithError(raw)
}

// ProducesFile reports whether the platform's output path names a file (an
// executable or package) rather than a directory. For these platforms the
// output directory is the parent of the output path.
func (p Platform) ProducesFile() bool {
	switch p {
	case PlatformWindows, PlatformWindows64, PlatformLinux64, PlatformAndroid, PlatformSwitch:
		return true
	default:
		return false
	}
}
