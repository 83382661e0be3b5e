package versions

import (
	"strings"

	"golang.org/x/mod/semver"
)

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// Versions are compared as semantic versions, with or without the leading "v",
// when both parse; otherwise the strings are compared lexicographically.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, oldSemver := canonical(newVersion), canonical(oldVersion)
	if !semver.IsValid(newSemver) || !semver.IsValid(oldSemver) {
		return newVersion > oldVersion
	}
	return semver.Compare(newSemver, oldSemver) > 0
}

// IsRelease reports whether version is a semantic version without a prerelease suffix
func IsRelease(version string) bool {
	v := canonical(version)
	return semver.IsValid(v) && semver.Prerelease(v) == ""
}

func canonical(version string) string {
	if version == "" || strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
