// Package version carries the build version used by the health endpoint and
// by schema migration ordering.
package version

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Version is overridable at build time:
//
//	go build -ldflags "-X github.com/hearth-home/hearth/internal/version.Version=0.4.0"
var Version = "0.0.0-dev"

// DevVersion is reported in dev and demo modes.
var DevVersion = Version

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// IsVersionGreaterThan compares two bare semver strings, without the "v"
// prefix. Migration files are ordered by this.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(fmt.Sprintf("v%s", version), fmt.Sprintf("v%s", target)) > 0
}
