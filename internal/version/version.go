package version

import (
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/fatih/color"
)

// Version information for the nctest CLI.
// These variables can be overridden at build time via -ldflags.

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	// Version is the semantic version of the CLI.
	Version = "0.4.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Colored renders Version with its major, minor and patch parts coloured.
// Versions that do not parse are returned unchanged.
func Colored() string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return Version
	}
	out := versionMajorColor.Sprint(strconv.FormatUint(v.Major(), 10)) + "." +
		versionMinorColor.Sprint(strconv.FormatUint(v.Minor(), 10)) + "." +
		versionPatchColor.Sprint(strconv.FormatUint(v.Patch(), 10))
	if pre := v.Prerelease(); pre != "" {
		out += "-" + pre
	}
	if meta := v.Metadata(); meta != "" {
		out += "+" + meta
	}
	return out
}
