package salesforce

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// MinimumAPIVersion is the oldest Metadata API version accepting the deploy
// options we send (testLevel appeared in 34.0).
const MinimumAPIVersion = "34.0"

// APIVersion is a Salesforce API version such as "61.0".
type APIVersion struct {
	Version string
}

// NewAPIVersion parses and checks a Salesforce API version.
func NewAPIVersion(version string) (APIVersion, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")

	if version == "" {
		return APIVersion{}, fmt.Errorf("salesforce api version is required")
	}

	v := APIVersion{Version: version}
	if !semver.IsValid(v.semver()) || strings.Count(version, ".") != 1 {
		return APIVersion{}, fmt.Errorf("invalid salesforce api version '%s', expected <major>.<minor>", version)
	}

	if !v.AtLeast(MinimumAPIVersion) {
		return APIVersion{}, fmt.Errorf("salesforce api version %s is not supported, minimum is %s", version, MinimumAPIVersion)
	}

	return v, nil
}

func (v APIVersion) semver() string {
	return "v" + v.Version
}

// AtLeast reports whether v is the same or newer than other.
func (v APIVersion) AtLeast(other string) bool {
	return semver.Compare(v.semver(), "v"+strings.TrimPrefix(other, "v")) >= 0
}

func (v APIVersion) String() string {
	return v.Version
}
