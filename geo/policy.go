package geo

import (
	"fmt"
	"strings"
)

// Policy decides what a failed geofence check does to a check-in
type Policy string

const (
	// PolicyOff skips the proximity check entirely
	PolicyOff Policy = "off"
	// PolicyWarn records a warning but lets the check-in proceed
	PolicyWarn Policy = "warn"
	// PolicyEnforce fails the check-in before any ledger call
	PolicyEnforce Policy = "enforce"
)

// ParsePolicy converts a config string into a Policy. Empty means PolicyEnforce.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyEnforce, nil
	case PolicyOff, PolicyWarn, PolicyEnforce:
		return p, nil
	default:
		return "", fmt.Errorf("unknown geofence policy %q", s)
	}
}
