package identity

import (
	"fmt"
	"strings"
)

// Scope is a named permission unit a token must carry to perform an action.
type Scope string

const (
	ScopeTelemetryWrite Scope = "telemetry:write"
	ScopeTrackingRead   Scope = "tracking:read"
	ScopeSimulatorStart Scope = "simulator:start"
)

// ParseScope normalizes and validates a scope string.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	switch scope {
	case ScopeTelemetryWrite, ScopeTrackingRead, ScopeSimulatorStart:
		return scope, nil
	default:
		return "", fmt.Errorf("unknown scope: %q", s)
	}
}

// String returns the string representation of the Scope.
func (scope Scope) String() string {
	return string(scope)
}

// HasAll reports whether every required scope is present in the granted set.
func HasAll(granted []Scope, required ...Scope) bool {
	for _, req := range required {
		found := false
		for _, g := range granted {
			if g == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
