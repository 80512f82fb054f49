package metadata

import (
	"regexp"
	"strings"

	"github.com/helvethink/sf-trigger-toggler/pkg/schemas"
)

// MaxTriggerNameLength bounds trigger API names.
const MaxTriggerNameLength = 255

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateTriggerName checks that name is a safe Salesforce API name before it
// ends up in a manifest, a descriptor or a zip entry path.
func ValidateTriggerName(name string) error {
	return validateIdentifier("triggerApiName", name)
}

// ValidateSObjectName checks the sObject used by the placeholder trigger body.
// Custom objects keep their __c suffix, so only the character set is checked.
func ValidateSObjectName(name string) error {
	if name == "" || len(name) > MaxTriggerNameLength || !identifierPattern.MatchString(name) {
		return &schemas.ValidationError{Field: "sobject", Reason: "must be a valid sObject API name"}
	}

	return nil
}

// IsValidIdentifier reports whether v is a valid API name.
func IsValidIdentifier(v string) bool {
	return validateIdentifier("", v) == nil
}

func validateIdentifier(field, v string) error {
	switch {
	case v == "":
		return &schemas.ValidationError{Field: field, Reason: "must be set"}
	case len(v) > MaxTriggerNameLength:
		return &schemas.ValidationError{Field: field, Reason: "is too long"}
	case !identifierPattern.MatchString(v):
		return &schemas.ValidationError{Field: field, Reason: "must start with a letter and contain only letters, digits and underscores"}
	case strings.Contains(v, "__"), strings.HasSuffix(v, "_"):
		return &schemas.ValidationError{Field: field, Reason: "must not contain consecutive underscores or end with one"}
	}

	return nil
}
