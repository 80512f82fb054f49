package schemas

import "strings"

// TriggerStatus is the value of the <status> element of an ApexTrigger descriptor.
type TriggerStatus string

const (
	// TriggerStatusActive makes the trigger execute.
	TriggerStatusActive TriggerStatus = "Active"

	// TriggerStatusInactive disables the trigger.
	TriggerStatusInactive TriggerStatus = "Inactive"
)

// ParseTriggerStatus maps caller supplied values onto a TriggerStatus.
// The mapping is case-insensitive: on/active give Active, off/inactive give
// Inactive. Anything else is a ValidationError.
func ParseTriggerStatus(v string) (TriggerStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "active":
		return TriggerStatusActive, nil
	case "off", "inactive":
		return TriggerStatusInactive, nil
	}

	return "", &ValidationError{
		Field:  "status",
		Reason: "must be one of on, off, active or inactive",
	}
}

// TriggerStatusFromBool converts the boolean "active" flag some clients send.
func TriggerStatusFromBool(active bool) TriggerStatus {
	if active {
		return TriggerStatusActive
	}

	return TriggerStatusInactive
}

// String implements fmt.Stringer.
func (s TriggerStatus) String() string {
	return string(s)
}
