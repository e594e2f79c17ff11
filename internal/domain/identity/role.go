package identity

import (
	"errors"
	"strings"
)

// Role is a token principal role carried in the `role` claim.
type Role string

const (
	RoleDroneDevice Role = "drone_device"
	RoleOperator    Role = "operator"
	RoleCustomer    Role = "customer"
	RoleAdmin       Role = "admin"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes (lowercases+trims) and validates a role string.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if role.Valid() {
		return role, nil
	}
	return "", ErrInvalidRole
}

// Valid reports whether the value is a known role.
func (role Role) Valid() bool {
	switch role {
	case RoleDroneDevice, RoleOperator, RoleCustomer, RoleAdmin:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (role Role) String() string {
	return string(role)
}
